package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/lecture-qa/internal/auth"
	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_addClient_removeClient(t *testing.T) {
	room := &Room{lectureId: "lecture-1", clients: make(map[*Client]struct{})}
	c := &Client{user: auth.Identity{Id: "user-1"}, rooms: make(map[string]*Room)}

	room.addClient(c)
	room.addClient(c)
	assert.Equal(t, 1, room.numClients(), "expected a client to be counted once")
	assert.True(t, room.hasClient(c))
	assert.Equal(t, room, c.getRoom("lecture-1"), "expected client to index the room")

	assert.True(t, room.removeClient(c), "expected member to be removed")
	assert.False(t, room.removeClient(c), "expected second removal to be a no-op")
	assert.Equal(t, 0, room.numClients())
	assert.Nil(t, c.getRoom("lecture-1"), "expected room to be removed from the client")
}

func Test_handleRoomTimeout(t *testing.T) {
	t.Run("requests unload", func(t *testing.T) {
		ls := newTestLectureServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		room := &Room{lectureId: "lecture-1", ls: ls, log: ls.log}

		room.handleRoomTimeout()
		select {
		case req := <-ls.unloadRoomChan:
			assert.Equal(t, "lecture-1", req.lectureId)
		default:
			t.Error("expected unload request to be sent")
		}
	})

	t.Run("unload channel is full", func(t *testing.T) {
		ls := newTestLectureServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		ls.unloadRoomChan = make(chan unloadRoomRequest, 1)
		ls.unloadRoomChan <- unloadRoomRequest{lectureId: "another"}

		room := &Room{lectureId: "lecture-1", ls: ls, log: ls.log, killTimer: time.NewTimer(0)}
		<-room.killTimer.C

		room.handleRoomTimeout()
		assert.True(t, room.killTimer.Stop(), "expected kill timer to be restarted")
	})
}

func Test_handleRoomExit(t *testing.T) {
	ls := newTestLectureServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})

	t.Run("idle exit with clients stays", func(t *testing.T) {
		room := newRoom("lecture-1", ls)
		c := &Client{rooms: make(map[string]*Room)}
		room.addClient(c)

		done := make(chan exitResult, 1)
		assert.False(t, room.handleRoomExit(exitReq{idle: true, done: done}))
		assert.False(t, (<-done).exited)
		assert.Equal(t, room, c.getRoom("lecture-1"))
	})

	t.Run("forced exit drains queued requests", func(t *testing.T) {
		room := newRoom("lecture-1", ls)
		c := &Client{rooms: make(map[string]*Room)}
		room.addClient(c)

		room.joinChan <- &ClientMessage{Id: "j1"}
		room.mutationChan <- &mutationReq{id: "m1"}
		room.leaveChan <- &ClientMessage{Id: "l1"}

		done := make(chan exitResult, 1)
		assert.True(t, room.handleRoomExit(exitReq{done: done}))

		res := <-done
		assert.True(t, res.exited)
		require.Len(t, res.joins, 1)
		assert.Equal(t, "j1", res.joins[0].Id)
		require.Len(t, res.mutations, 1)
		assert.Equal(t, "m1", res.mutations[0].id)
		assert.Nil(t, c.getRoom("lecture-1"), "expected client to be removed from the room")
		assert.Equal(t, 0, room.numClients())
	})
}

func TestJoin(t *testing.T) {
	t.Run("enrolled student receives snapshot and count", func(t *testing.T) {
		env := newTestEnv(t).start()
		q := env.createQuestion(env.lecture.Id, env.student2, "Why two phases?")
		env.createQuestion(env.other.Id, env.student2, "Elsewhere")

		c := env.newClient(env.student)
		data := join(t, c, env.lecture.Id, 1)

		assert.Equal(t, env.lecture.Id, data.Lecture.Id)
		assert.Equal(t, "live", data.Lecture.Status)
		require.Len(t, data.Questions, 1, "expected only questions of the joined lecture")
		assert.Equal(t, q.Id, data.Questions[0].Id)
		assert.Equal(t, "Alan Turing", data.Questions[0].AskedBy.Name)

		room, ok := env.ls.getRoom(env.lecture.Id)
		require.True(t, ok)
		assert.True(t, room.hasClient(c))
		assert.Equal(t, room, c.getRoom(env.lecture.Id))
	})

	t.Run("instructor and admin may join", func(t *testing.T) {
		env := newTestEnv(t).start()

		join(t, env.newClient(env.instructor), env.lecture.Id, 1)
		join(t, env.newClient(env.admin), env.lecture.Id, 2)
	})

	t.Run("second member is counted and announced", func(t *testing.T) {
		env := newTestEnv(t).start()
		a := env.newClient(env.student)
		b := env.newClient(env.instructor)

		join(t, a, env.lecture.Id, 1)
		join(t, b, env.lecture.Id, 2)
		expectCount(t, a, 2)
	})

	t.Run("joining twice does not double count", func(t *testing.T) {
		env := newTestEnv(t).start()
		c := env.newClient(env.student)

		join(t, c, env.lecture.Id, 1)
		join(t, c, env.lecture.Id, 1)
	})

	t.Run("lecture window boundaries are inclusive", func(t *testing.T) {
		env := newTestEnv(t).start()

		env.setNow(env.lecture.StartTime)
		join(t, env.newClient(env.student), env.lecture.Id, 1)

		env.setNow(env.lecture.EndTime)
		join(t, env.newClient(env.student2), env.lecture.Id, 2)
	})
}

func TestJoin_Failures(t *testing.T) {
	tcases := []struct {
		name    string
		user    func(env *testEnv) auth.Identity
		lecture func(env *testEnv) string
		reason  Reason
	}{
		{
			name:    "missing lecture",
			user:    func(env *testEnv) auth.Identity { return env.student },
			lecture: func(env *testEnv) string { return "missing" },
			reason:  ReasonNotFound,
		},
		{
			name:    "upcoming lecture",
			user:    func(env *testEnv) auth.Identity { return env.student },
			lecture: func(env *testEnv) string { return env.upcoming.Id },
			reason:  ReasonNotOngoing,
		},
		{
			name:    "finished lecture",
			user:    func(env *testEnv) auth.Identity { return env.student },
			lecture: func(env *testEnv) string { return env.finished.Id },
			reason:  ReasonNotOngoing,
		},
		{
			name:    "student not enrolled in a finished lecture",
			user:    func(env *testEnv) auth.Identity { return env.outsider },
			lecture: func(env *testEnv) string { return env.finished.Id },
			reason:  ReasonNotOngoing,
		},
		{
			name:    "student not enrolled",
			user:    func(env *testEnv) auth.Identity { return env.outsider },
			lecture: func(env *testEnv) string { return env.lecture.Id },
			reason:  ReasonForbidden,
		},
		{
			name:    "ta not enrolled",
			user:    func(env *testEnv) auth.Identity { return env.ta },
			lecture: func(env *testEnv) string { return env.lecture.Id },
			reason:  ReasonForbidden,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t).start()
			member := env.newClient(env.instructor)
			join(t, member, env.lecture.Id, 1)

			lectureId := tc.lecture(env)
			c := env.newClient(tc.user(env))
			request(t, c, "j1", EventJoinLecture, map[string]string{"lectureId": lectureId})

			msg := expectEvent(t, c, EventError)
			assert.Equal(t, "j1", msg.Id, "expected error to carry the request id")
			assert.Equal(t, tc.reason, msg.Data.(ErrorPayload).Reason)

			assert.Nil(t, c.getRoom(lectureId), "expected membership to be unchanged")
			expectNoMessage(t, member)

			room, _ := env.ls.getRoom(env.lecture.Id)
			assert.Equal(t, 1, room.numClients())
		})
	}
}

func TestJoin_CourseMissing(t *testing.T) {
	lecture := database.Lecture{
		Id:        "lecture-1",
		CourseId:  "course-1",
		StartTime: testNow.Add(-time.Minute),
		EndTime:   testNow.Add(time.Minute),
	}

	db := &database.MockRepository{}
	db.On("GetLectureById", "lecture-1").Return(lecture, nil)
	db.On("GetCourseById", "course-1").Return(database.Course{}, sql.ErrNoRows).Once()

	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	ls := newTestLectureServer(t, db, su)
	go ls.Run()
	defer shutdown(t, ls)

	c := &Client{
		ls:    ls,
		log:   ls.log,
		user:  auth.Identity{Id: "user-1", Role: database.RoleAdmin},
		send:  make(chan *ServerMessage, 8),
		rooms: make(map[string]*Room),
		stop:  make(chan struct{}),
	}
	request(t, c, "j1", EventJoinLecture, map[string]string{"lectureId": "lecture-1"})

	payload := expectError(t, c, ReasonNotFound)
	assert.Equal(t, "course not found", payload.Message)
}

func TestJoin_ListQuestionsError(t *testing.T) {
	lecture := database.Lecture{
		Id:        "lecture-1",
		CourseId:  "course-1",
		StartTime: testNow.Add(-time.Minute),
		EndTime:   testNow.Add(time.Minute),
	}

	db := &database.MockRepository{}
	db.On("GetLectureById", "lecture-1").Return(lecture, nil)
	db.On("GetCourseById", "course-1").Return(database.Course{Id: "course-1", InstructorId: "user-1"}, nil).Once()
	db.On("ListQuestions", "lecture-1").Return([]database.Question(nil), errors.New("connection reset")).Once()

	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	ls := newTestLectureServer(t, db, su)
	go ls.Run()
	defer shutdown(t, ls)

	c := &Client{
		ls:    ls,
		log:   ls.log,
		user:  auth.Identity{Id: "user-1", Role: database.RoleInstructor},
		send:  make(chan *ServerMessage, 8),
		rooms: make(map[string]*Room),
		stop:  make(chan struct{}),
	}
	request(t, c, "j1", EventJoinLecture, map[string]string{"lectureId": "lecture-1"})

	payload := expectError(t, c, ReasonUnexpected)
	assert.Equal(t, "unexpected error", payload.Message, "expected store details to stay internal")
	assert.Nil(t, c.getRoom("lecture-1"))
}

func TestLeave(t *testing.T) {
	env := newTestEnv(t).start()
	a := env.newClient(env.student)
	b := env.newClient(env.student2)

	join(t, a, env.lecture.Id, 1)
	join(t, b, env.lecture.Id, 2)
	expectCount(t, a, 2)

	request(t, b, "l1", EventLeaveLecture, map[string]string{"lectureId": env.lecture.Id})
	expectCount(t, a, 1)
	expectNoMessage(t, b)
	assert.Nil(t, b.getRoom(env.lecture.Id))

	// leaving a room the client is not in is a no-op
	request(t, b, "l2", EventLeaveLecture, map[string]string{"lectureId": env.lecture.Id})
	expectNoMessage(t, a)
	expectNoMessage(t, b)
}

func TestDisconnect(t *testing.T) {
	env := newTestEnv(t).start()
	a := env.newClient(env.instructor)
	b := env.newClient(env.student)

	join(t, a, env.lecture.Id, 1)
	join(t, a, env.other.Id, 1)
	join(t, b, env.lecture.Id, 2)
	expectCount(t, a, 2)
	join(t, b, env.other.Id, 2)
	expectCount(t, a, 2)

	b.cleanup()

	expectCount(t, a, 1)
	expectCount(t, a, 1)
	expectNoMessage(t, a)

	assert.NotContains(t, env.ls.clients, b, "expected client to be deregistered")
	for _, id := range []string{env.lecture.Id, env.other.Id} {
		room, ok := env.ls.getRoom(id)
		require.True(t, ok)
		assert.Eventually(t, func() bool { return !room.hasClient(b) }, time.Second, 10*time.Millisecond)
	}
}

func TestJoin_QueuedBeforeDisconnect(t *testing.T) {
	env := newTestEnv(t)
	gone := env.newClient(env.student)

	// the join is still queued when the connection drops
	request(t, gone, "j1", EventJoinLecture, map[string]string{"lectureId": env.lecture.Id})
	gone.cleanup()
	env.start()

	live := env.newClient(env.student2)
	join(t, live, env.lecture.Id, 1)

	room, ok := env.ls.getRoom(env.lecture.Id)
	require.True(t, ok)
	assert.False(t, room.hasClient(gone), "expected closed client to stay out of the room")
	assert.Nil(t, gone.getRoom(env.lecture.Id))
	assert.Equal(t, 1, room.numClients())
	expectNoMessage(t, gone)
}

func TestAskQuestion(t *testing.T) {
	env := newTestEnv(t).start()
	asker := env.newClient(env.student)
	member := env.newClient(env.instructor)
	join(t, asker, env.lecture.Id, 1)
	join(t, member, env.lecture.Id, 2)
	expectCount(t, asker, 2)

	request(t, asker, "tmp-1", EventAskQuestion, map[string]string{
		"lectureId": env.lecture.Id,
		"content":   "  How does Raft elect a leader?  ",
	})

	for _, c := range []*Client{asker, member} {
		msg := expectEvent(t, c, EventNewQuestion)
		assert.Equal(t, "tmp-1", msg.Id, "expected broadcast to carry the request id")

		q := msg.Data.(QuestionPayload).Question
		assert.NotEmpty(t, q.Id)
		assert.Equal(t, env.lecture.Id, q.LectureId)
		assert.Equal(t, "How does Raft elect a leader?", q.Content)
		assert.Equal(t, env.student.Id, q.AskedBy.Id)
		assert.Equal(t, "Ada Lovelace", q.AskedBy.Name)
		assert.Equal(t, "open", q.Status)
		assert.False(t, q.IsImportant)
	}

	questions, err := env.db.ListQuestions(env.lecture.Id)
	require.NoError(t, err)
	assert.Len(t, questions, 1)
}

func TestAskQuestion_Failures(t *testing.T) {
	t.Run("empty content", func(t *testing.T) {
		env := newTestEnv(t).start()
		asker := env.newClient(env.student)
		member := env.newClient(env.instructor)
		join(t, asker, env.lecture.Id, 1)
		join(t, member, env.lecture.Id, 2)
		expectCount(t, asker, 2)

		request(t, asker, "tmp-1", EventAskQuestion, map[string]string{"lectureId": env.lecture.Id, "content": " \t\n "})
		expectError(t, asker, ReasonValidation)
		expectNoMessage(t, member)
	})

	t.Run("moderator cannot ask", func(t *testing.T) {
		env := newTestEnv(t).start()
		c := env.newClient(env.instructor)
		join(t, c, env.lecture.Id, 1)

		request(t, c, "tmp-1", EventAskQuestion, map[string]string{"lectureId": env.lecture.Id, "content": "hi"})
		expectError(t, c, ReasonForbidden)
	})

	t.Run("not joined", func(t *testing.T) {
		env := newTestEnv(t).start()
		c := env.newClient(env.student)

		request(t, c, "tmp-1", EventAskQuestion, map[string]string{"lectureId": env.lecture.Id, "content": "hi"})
		payload := expectError(t, c, ReasonForbidden)
		assert.Equal(t, "join the lecture first", payload.Message)
	})

	t.Run("lecture ended after join", func(t *testing.T) {
		env := newTestEnv(t).start()
		asker := env.newClient(env.student)
		member := env.newClient(env.instructor)
		join(t, asker, env.lecture.Id, 1)
		join(t, member, env.lecture.Id, 2)
		expectCount(t, asker, 2)

		env.setNow(env.lecture.EndTime.Add(time.Second))
		request(t, asker, "tmp-1", EventAskQuestion, map[string]string{"lectureId": env.lecture.Id, "content": "too late?"})

		expectError(t, asker, ReasonNotOngoing)
		expectNoMessage(t, member)

		questions, err := env.db.ListQuestions(env.lecture.Id)
		require.NoError(t, err)
		assert.Empty(t, questions, "expected no question to be created")
	})
}

func TestAskQuestion_Concurrent(t *testing.T) {
	const n = 20

	env := newTestEnv(t).start()
	clients := make([]*Client, n)
	for i := range n {
		user := env.createUser(fmt.Sprintf("Student %d", i), database.RoleStudent)
		env.enroll(user)
		clients[i] = env.newClient(user)
	}
	for i, c := range clients {
		join(t, c, env.lecture.Id, i+1)
	}

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			request(t, c, fmt.Sprintf("tmp-%d", i), EventAskQuestion, map[string]string{
				"lectureId": env.lecture.Id,
				"content":   fmt.Sprintf("question %d", i),
			})
		}()
	}
	wg.Wait()

	for _, c := range clients {
		ids := make(map[string]struct{})
		timeout := time.After(2 * time.Second)
		for len(ids) < n {
			select {
			case msg := <-c.send:
				switch msg.Event {
				case EventParticipantCount:
				case EventNewQuestion:
					ids[msg.Data.(QuestionPayload).Question.Id] = struct{}{}
				default:
					t.Fatalf("unexpected event %q: %+v", msg.Event, msg.Data)
				}
			case <-timeout:
				t.Fatalf("received %d of %d questions", len(ids), n)
			}
		}
		expectNoMessage(t, c)
	}

	questions, err := env.db.ListQuestions(env.lecture.Id)
	require.NoError(t, err)
	assert.Len(t, questions, n)

	distinct := make(map[string]struct{})
	for _, q := range questions {
		distinct[q.Id] = struct{}{}
	}
	assert.Len(t, distinct, n, "expected distinct question ids")
}

// moderationEnv has a student and a moderator joined to the live lecture.
func moderationEnv(t *testing.T, moderator func(env *testEnv) auth.Identity) (*testEnv, *Client, *Client, database.Question) {
	env := newTestEnv(t).start()
	student := env.newClient(env.student)
	mod := env.newClient(moderator(env))

	join(t, student, env.lecture.Id, 1)
	if mod.user.Role == database.RoleTA {
		env.enroll(mod.user)
	}
	join(t, mod, env.lecture.Id, 2)
	expectCount(t, student, 2)

	q := env.createQuestion(env.lecture.Id, env.student, "Is this on the exam?")
	return env, student, mod, q
}

func TestToggleImportant(t *testing.T) {
	env, student, mod, q := moderationEnv(t, func(env *testEnv) auth.Identity { return env.instructor })

	for _, important := range []bool{true, false} {
		request(t, mod, "t1", EventToggleImportant, map[string]any{"questionId": q.Id, "isImportant": important})

		for _, c := range []*Client{student, mod} {
			msg := expectEvent(t, c, EventQuestionUpdated)
			assert.Equal(t, "t1", msg.Id)

			updated := msg.Data.(QuestionPayload).Question
			assert.Equal(t, q.Id, updated.Id)
			assert.Equal(t, important, updated.IsImportant)
			assert.Equal(t, "Ada Lovelace", updated.AskedBy.Name)
		}
	}

	stored, err := env.db.GetQuestionById(q.Id)
	require.NoError(t, err)
	assert.False(t, stored.IsImportant, "expected round trip to restore the flag")
}

func TestModeration_Failures(t *testing.T) {
	env, student, mod, q := moderationEnv(t, func(env *testEnv) auth.Identity { return env.instructor })

	tcases := []struct {
		name   string
		client *Client
		event  string
		data   map[string]any
		reason Reason
	}{
		{
			name:   "student cannot toggle",
			client: student,
			event:  EventToggleImportant,
			data:   map[string]any{"questionId": q.Id, "isImportant": true},
			reason: ReasonForbidden,
		},
		{
			name:   "student cannot delete",
			client: student,
			event:  EventDeleteQuestion,
			data:   map[string]any{"questionId": q.Id},
			reason: ReasonForbidden,
		},
		{
			name:   "student cannot clear",
			client: student,
			event:  EventClearQuestions,
			data:   map[string]any{"lectureId": env.lecture.Id},
			reason: ReasonForbidden,
		},
		{
			name:   "missing importance flag",
			client: mod,
			event:  EventToggleImportant,
			data:   map[string]any{"questionId": q.Id},
			reason: ReasonValidation,
		},
		{
			name:   "invalid status",
			client: mod,
			event:  EventUpdateQuestionStatus,
			data:   map[string]any{"questionId": q.Id, "status": "dismissed"},
			reason: ReasonValidation,
		},
		{
			name:   "empty update",
			client: mod,
			event:  EventUpdateQuestion,
			data:   map[string]any{"questionId": q.Id, "updates": map[string]any{}},
			reason: ReasonValidation,
		},
		{
			name:   "unknown question",
			client: mod,
			event:  EventDeleteQuestion,
			data:   map[string]any{"questionId": "missing"},
			reason: ReasonNotFound,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			request(t, tc.client, "r1", tc.event, tc.data)

			msg := expectEvent(t, tc.client, EventError)
			assert.Equal(t, "r1", msg.Id)
			assert.Equal(t, tc.reason, msg.Data.(ErrorPayload).Reason)

			other := mod
			if tc.client == mod {
				other = student
			}
			expectNoMessage(t, other)
		})
	}

	stored, err := env.db.GetQuestionById(q.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusOpen, stored.Status)
	assert.False(t, stored.IsImportant)
}

func TestModeration_QuestionOfAnotherLecture(t *testing.T) {
	env, _, mod, _ := moderationEnv(t, func(env *testEnv) auth.Identity { return env.instructor })
	elsewhere := env.createQuestion(env.other.Id, env.student, "Different room")

	request(t, mod, "d1", EventDeleteQuestion, map[string]any{"questionId": elsewhere.Id})
	expectError(t, mod, ReasonForbidden)

	_, err := env.db.GetQuestionById(elsewhere.Id)
	assert.NoError(t, err, "expected question outside the joined room to survive")
}

func TestUpdateQuestionStatus(t *testing.T) {
	env, student, mod, q := moderationEnv(t, func(env *testEnv) auth.Identity { return env.ta })

	request(t, mod, "s1", EventUpdateQuestionStatus, map[string]any{"questionId": q.Id, "status": "answered"})

	for _, c := range []*Client{student, mod} {
		msg := expectEvent(t, c, EventQuestionUpdated)
		assert.Equal(t, "answered", msg.Data.(QuestionPayload).Question.Status)
	}

	stored, err := env.db.GetQuestionById(q.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusAnswered, stored.Status)
}

func TestUpdateQuestion(t *testing.T) {
	env, student, mod, q := moderationEnv(t, func(env *testEnv) auth.Identity { return env.instructor })

	request(t, mod, "u1", EventUpdateQuestion, map[string]any{
		"questionId": q.Id,
		"updates":    map[string]any{"status": "answered", "isImportant": true},
	})

	for _, c := range []*Client{student, mod} {
		msg := expectEvent(t, c, EventQuestionUpdated)
		updated := msg.Data.(QuestionPayload).Question
		assert.Equal(t, "answered", updated.Status)
		assert.True(t, updated.IsImportant)
	}

	stored, err := env.db.GetQuestionById(q.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusAnswered, stored.Status)
	assert.True(t, stored.IsImportant)
}

func TestUpdateQuestion_EmptyStatus(t *testing.T) {
	_, student, mod, q := moderationEnv(t, func(env *testEnv) auth.Identity { return env.instructor })

	request(t, mod, "u1", EventUpdateQuestion, map[string]any{
		"questionId": q.Id,
		"updates":    map[string]any{"status": "", "isImportant": true},
	})
	for _, c := range []*Client{student, mod} {
		updated := expectEvent(t, c, EventQuestionUpdated).Data.(QuestionPayload).Question
		assert.Equal(t, "open", updated.Status, "expected empty status to leave the status unchanged")
		assert.True(t, updated.IsImportant)
	}

	request(t, mod, "u2", EventUpdateQuestion, map[string]any{
		"questionId": q.Id,
		"updates":    map[string]any{"status": ""},
	})
	payload := expectError(t, mod, ReasonValidation)
	assert.Equal(t, "no updates given", payload.Message)
	expectNoMessage(t, student)
}

func TestUpdateQuestion_SingleWrite(t *testing.T) {
	lecture := database.Lecture{
		Id:        "lecture-1",
		CourseId:  "course-1",
		StartTime: testNow.Add(-time.Minute),
		EndTime:   testNow.Add(time.Minute),
	}
	course := database.Course{Id: "course-1", InstructorId: "user-1"}
	status := database.StatusAnswered
	important := true

	req := &mutationReq{
		id:        "u1",
		lectureId: "lecture-1",
		actor:     auth.Identity{Id: "user-1", Role: database.RoleInstructor},
		mutation: Mutation{
			Kind:        EventUpdateQuestion,
			QuestionId:  "question-1",
			Status:      &status,
			IsImportant: &important,
		},
	}

	t.Run("store failure changes nothing", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetLectureById", "lecture-1").Return(lecture, nil)
		db.On("GetCourseById", "course-1").Return(course, nil)
		db.On("UpdateQuestion", "question-1", "lecture-1", &status, &important).
			Return(database.Question{}, errors.New("conn reset")).Once()
		defer db.AssertExpectations(t)

		ls := newTestLectureServer(t, db, &stats.MockStatsUpdater{})
		room := newRoom("lecture-1", ls)

		msg, err := room.applyMutation(req)
		assert.Nil(t, msg, "expected nothing to broadcast")
		require.NotNil(t, err)
		assert.Equal(t, ReasonUnexpected, err.Reason)
		db.AssertNotCalled(t, "SetQuestionStatus", mock.Anything, mock.Anything, mock.Anything)
		db.AssertNotCalled(t, "SetQuestionImportant", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("both fields in one call", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetLectureById", "lecture-1").Return(lecture, nil)
		db.On("GetCourseById", "course-1").Return(course, nil)
		db.On("UpdateQuestion", "question-1", "lecture-1", &status, &important).
			Return(database.Question{Id: "question-1", LectureId: "lecture-1", Status: status, IsImportant: true}, nil).Once()
		defer db.AssertExpectations(t)

		ls := newTestLectureServer(t, db, &stats.MockStatsUpdater{})
		room := newRoom("lecture-1", ls)

		msg, err := room.applyMutation(req)
		require.Nil(t, err)
		assert.Equal(t, EventQuestionUpdated, msg.Event)
		updated := msg.Data.(QuestionPayload).Question
		assert.Equal(t, "answered", updated.Status)
		assert.True(t, updated.IsImportant)
	})
}

func TestDeleteQuestion(t *testing.T) {
	env, student, mod, q := moderationEnv(t, func(env *testEnv) auth.Identity { return env.admin })

	request(t, mod, "d1", EventDeleteQuestion, map[string]any{"questionId": q.Id})

	for _, c := range []*Client{student, mod} {
		msg := expectEvent(t, c, EventQuestionDeleted)
		assert.Equal(t, QuestionDeleted{QuestionId: q.Id}, msg.Data)
	}

	_, err := env.db.GetQuestionById(q.Id)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestClearQuestions(t *testing.T) {
	env, student, mod, _ := moderationEnv(t, func(env *testEnv) auth.Identity { return env.instructor })
	env.createQuestion(env.lecture.Id, env.student2, "Second question")
	kept := env.createQuestion(env.other.Id, env.student, "Other lecture")

	request(t, mod, "c1", EventClearQuestions, map[string]any{"lectureId": env.lecture.Id})

	for _, c := range []*Client{student, mod} {
		msg := expectEvent(t, c, EventQuestionsCleared)
		assert.Equal(t, QuestionsCleared{LectureId: env.lecture.Id}, msg.Data)
	}

	questions, err := env.db.ListQuestions(env.lecture.Id)
	require.NoError(t, err)
	assert.Empty(t, questions)

	others, err := env.db.ListQuestions(env.other.Id)
	require.NoError(t, err)
	require.Len(t, others, 1, "expected other lectures to keep their questions")
	assert.Equal(t, kept.Id, others[0].Id)
}

func TestModeration_OutsideWindow(t *testing.T) {
	env, student, mod, q := moderationEnv(t, func(env *testEnv) auth.Identity { return env.instructor })

	env.setNow(env.lecture.EndTime.Add(time.Minute))
	request(t, mod, "t1", EventToggleImportant, map[string]any{"questionId": q.Id, "isImportant": true})

	expectError(t, mod, ReasonNotOngoing)
	expectNoMessage(t, student)
}

func shutdown(t *testing.T, ls *LectureServer) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, ls.Shutdown(ctx))
}
