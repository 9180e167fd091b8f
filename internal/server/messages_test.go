package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientMessage_UnmarshalJSON(t *testing.T) {
	important := true
	answered := database.StatusAnswered

	tcases := []struct {
		name     string
		raw      string
		expected ClientMessage
		err      bool
	}{
		{
			name:     "join",
			raw:      `{"id":"1","event":"joinLecture","data":{"lectureId":"l1"}}`,
			expected: ClientMessage{Id: "1", Event: EventJoinLecture, Join: &LectureRef{LectureId: "l1"}},
		},
		{
			name:     "leave without id",
			raw:      `{"event":"leaveLecture","data":{"lectureId":"l1"}}`,
			expected: ClientMessage{Event: EventLeaveLecture, Leave: &LectureRef{LectureId: "l1"}},
		},
		{
			name:     "ask keeps raw content",
			raw:      `{"id":"tmp-1","event":"askQuestion","data":{"lectureId":"l1","content":"  why?  "}}`,
			expected: ClientMessage{Id: "tmp-1", Event: EventAskQuestion, Ask: &Ask{LectureId: "l1", Content: "  why?  "}},
		},
		{
			name: "toggle important",
			raw:  `{"id":"2","event":"toggleImportant","data":{"questionId":"q1","isImportant":true}}`,
			expected: ClientMessage{Id: "2", Event: EventToggleImportant,
				ToggleImportant: &ToggleImportant{QuestionId: "q1", IsImportant: &important}},
		},
		{
			name: "update status",
			raw:  `{"id":"3","event":"updateQuestionStatus","data":{"questionId":"q1","status":"answered"}}`,
			expected: ClientMessage{Id: "3", Event: EventUpdateQuestionStatus,
				UpdateStatus: &UpdateQuestionStatus{QuestionId: "q1", Status: database.StatusAnswered}},
		},
		{
			name: "update question",
			raw:  `{"id":"4","event":"updateQuestion","data":{"questionId":"q1","updates":{"status":"answered"}}}`,
			expected: ClientMessage{Id: "4", Event: EventUpdateQuestion,
				Update: &UpdateQuestion{QuestionId: "q1", Updates: QuestionUpdates{Status: &answered}}},
		},
		{
			name:     "delete",
			raw:      `{"id":"5","event":"deleteQuestion","data":{"questionId":"q1"}}`,
			expected: ClientMessage{Id: "5", Event: EventDeleteQuestion, Delete: &QuestionRef{QuestionId: "q1"}},
		},
		{
			name:     "clear",
			raw:      `{"id":"6","event":"clearQuestions","data":{"lectureId":"l1"}}`,
			expected: ClientMessage{Id: "6", Event: EventClearQuestions, Clear: &LectureRef{LectureId: "l1"}},
		},
		{name: "unknown event", raw: `{"event":"publish","data":{}}`, err: true},
		{name: "missing data", raw: `{"event":"joinLecture"}`, err: true},
		{name: "missing lecture id", raw: `{"event":"askQuestion","data":{"content":"hi"}}`, err: true},
		{name: "missing question id", raw: `{"event":"deleteQuestion","data":{}}`, err: true},
		{name: "wrong type", raw: `{"event":"toggleImportant","data":{"questionId":"q1","isImportant":"yes"}}`, err: true},
		{name: "not json", raw: `joinLecture l1`, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var msg ClientMessage
			err := json.Unmarshal([]byte(tc.raw), &msg)
			if tc.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, msg)
		})
	}
}

func TestServerMessage_Marshal(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	q := types.Question{
		Id:        "q1",
		LectureId: "l1",
		AskedBy:   types.Author{Id: "u1", Name: "Ada"},
		Content:   "why?",
		Status:    "open",
		CreatedAt: created,
	}

	msg := NewQuestionMsg("tmp-1", q)
	msg.Timestamp = created

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "tmp-1",
		"event": "newQuestion",
		"timestamp": "2026-03-02T09:00:00Z",
		"data": {"question": {
			"id": "q1",
			"lectureId": "l1",
			"askedBy": {"id": "u1", "name": "Ada"},
			"content": "why?",
			"status": "open",
			"isImportant": false,
			"createdAt": "2026-03-02T09:00:00Z"
		}}
	}`, string(raw))

	count := ParticipantCountMsg(3)
	count.Timestamp = created
	raw, err = json.Marshal(count)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"participantCount","data":{"count":3},"timestamp":"2026-03-02T09:00:00Z"}`, string(raw))
}

func TestErrorMsg(t *testing.T) {
	msg := ErrorMsg("r1", errNotOngoing())
	assert.Equal(t, "r1", msg.Id)
	assert.Equal(t, EventError, msg.Event)
	assert.Equal(t, ErrorPayload{Message: "lecture is not ongoing", Reason: ReasonNotOngoing}, msg.Data)
	assert.False(t, msg.Timestamp.IsZero())

	invalid := ErrInvalidMessage("")
	assert.Empty(t, invalid.Id)
	assert.Equal(t, ReasonValidation, invalid.Data.(ErrorPayload).Reason)

	unavailable := ErrServiceUnavailable("r2")
	assert.Equal(t, ErrorPayload{Message: "service unavailable", Reason: ReasonUnexpected}, unavailable.Data)
}

func TestAsError(t *testing.T) {
	e := errForbidden("nope")
	assert.Same(t, e, AsError(e))

	wrapped := AsError(assert.AnError)
	assert.Equal(t, ReasonUnexpected, wrapped.Reason)
	assert.ErrorIs(t, wrapped, assert.AnError)
}
