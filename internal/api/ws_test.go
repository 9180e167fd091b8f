package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/server"
	"github.com/npezzotti/lecture-qa/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsMessage struct {
	Id    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func (env *apiEnv) dial(srv *httptest.Server, u database.User) *websocket.Conn {
	env.t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+env.token(u), nil)
	require.NoError(env.t, err, "expected websocket handshake to succeed")
	resp.Body.Close()
	env.t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id, event string, data any) {
	t.Helper()

	require.NoError(t, conn.WriteJSON(map[string]any{"id": id, "event": event, "data": data}))
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) wsMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg), "timed out waiting for %q", event)
	require.Equal(t, event, msg.Event, "unexpected message data: %s", msg.Data)
	return msg
}

func TestServeWs_Unauthorized(t *testing.T) {
	env := newApiEnv(t)
	srv := httptest.NewServer(env.app.Handler())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv)+"?token=garbage", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWs_CheckOrigin(t *testing.T) {
	env := newApiEnv(t)
	srv := httptest.NewServer(env.app.Handler())
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+env.token(env.student), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:3000")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+env.token(env.student), header)
	require.NoError(t, err, "expected allowed origin to connect")
	resp.Body.Close()
	conn.Close()
}

func TestServeWs_JoinAndAsk(t *testing.T) {
	env := newApiEnv(t)
	srv := httptest.NewServer(env.app.Handler())
	defer srv.Close()

	existing := env.createQuestion(env.live.Id, "Is this on?")

	instructor := env.dial(srv, env.instructor)
	send(t, instructor, "j1", server.EventJoinLecture, map[string]string{"lectureId": env.live.Id})

	msg := readEvent(t, instructor, server.EventLectureData)
	assert.Equal(t, "j1", msg.Id, "expected snapshot to echo the request id")
	var snapshot struct {
		Lecture      types.Lecture    `json:"lecture"`
		Questions    []types.Question `json:"questions"`
		Participants int              `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
	assert.Equal(t, env.live.Id, snapshot.Lecture.Id)
	assert.Equal(t, "live", snapshot.Lecture.Status)
	require.Len(t, snapshot.Questions, 1)
	assert.Equal(t, existing.Id, snapshot.Questions[0].Id)
	assert.Equal(t, 1, snapshot.Participants)
	readEvent(t, instructor, server.EventParticipantCount)

	student := env.dial(srv, env.student)
	send(t, student, "j2", server.EventJoinLecture, map[string]string{"lectureId": env.live.Id})
	readEvent(t, student, server.EventLectureData)
	readEvent(t, student, server.EventParticipantCount)

	msg = readEvent(t, instructor, server.EventParticipantCount)
	var count struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &count))
	assert.Equal(t, 2, count.Count)

	// asked over the socket
	send(t, student, "a1", server.EventAskQuestion, map[string]string{
		"lectureId": env.live.Id,
		"content":   "What about error recovery?",
	})
	for _, conn := range []*websocket.Conn{student, instructor} {
		msg := readEvent(t, conn, server.EventNewQuestion)
		var payload struct {
			Question types.Question `json:"question"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		assert.Equal(t, "What about error recovery?", payload.Question.Content)
	}

	// asked over HTTP, still broadcast to the room
	rr := env.do(http.MethodPost, "/api/lectures/"+env.live.Id+"/questions", AskRequest{Content: "And precedence?"}, &env.student)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	for _, conn := range []*websocket.Conn{student, instructor} {
		msg := readEvent(t, conn, server.EventNewQuestion)
		assert.Empty(t, msg.Id, "expected HTTP originated broadcast to carry no socket request id")
	}

	// rejected requests are answered to the requester only
	send(t, student, "d1", server.EventDeleteQuestion, map[string]string{"questionId": existing.Id})
	msg = readEvent(t, student, server.EventError)
	assert.Equal(t, "d1", msg.Id)
	var errPayload struct {
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &errPayload))
	assert.Equal(t, "Forbidden", errPayload.Reason)

	send(t, instructor, "d2", server.EventDeleteQuestion, map[string]string{"questionId": existing.Id})
	for _, conn := range []*websocket.Conn{student, instructor} {
		readEvent(t, conn, server.EventQuestionDeleted)
	}
}
