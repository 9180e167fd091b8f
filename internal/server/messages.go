package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/types"
)

// Inbound events.
const (
	EventJoinLecture          = "joinLecture"
	EventLeaveLecture         = "leaveLecture"
	EventAskQuestion          = "askQuestion"
	EventToggleImportant      = "toggleImportant"
	EventUpdateQuestionStatus = "updateQuestionStatus"
	EventUpdateQuestion       = "updateQuestion"
	EventDeleteQuestion       = "deleteQuestion"
	EventClearQuestions       = "clearQuestions"
)

// Outbound events.
const (
	EventLectureData      = "lectureData"
	EventParticipantCount = "participantCount"
	EventNewQuestion      = "newQuestion"
	EventQuestionUpdated  = "questionUpdated"
	EventQuestionDeleted  = "questionDeleted"
	EventQuestionsCleared = "questionsCleared"
	EventError            = "error"
)

var errMissingField = errors.New("missing required field")

type ClientMessage struct {
	Id    string `json:"id,omitempty"`
	Event string `json:"event"`

	Join            *LectureRef           `json:"-"`
	Leave           *LectureRef           `json:"-"`
	Ask             *Ask                  `json:"-"`
	ToggleImportant *ToggleImportant      `json:"-"`
	UpdateStatus    *UpdateQuestionStatus `json:"-"`
	Update          *UpdateQuestion       `json:"-"`
	Delete          *QuestionRef          `json:"-"`
	Clear           *LectureRef           `json:"-"`
	Timestamp       time.Time             `json:"-"`
	client          *Client
}

type LectureRef struct {
	LectureId string `json:"lectureId"`
}

type QuestionRef struct {
	QuestionId string `json:"questionId"`
}

type Ask struct {
	LectureId string `json:"lectureId"`
	Content   string `json:"content"`
}

type ToggleImportant struct {
	QuestionId  string `json:"questionId"`
	IsImportant *bool  `json:"isImportant"`
}

type UpdateQuestionStatus struct {
	QuestionId string                  `json:"questionId"`
	Status     database.QuestionStatus `json:"status"`
}

type UpdateQuestion struct {
	QuestionId string          `json:"questionId"`
	Updates    QuestionUpdates `json:"updates"`
}

// QuestionUpdates holds the fields a moderator may change together.
type QuestionUpdates struct {
	Status      *database.QuestionStatus `json:"status,omitempty"`
	IsImportant *bool                    `json:"isImportant,omitempty"`
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errMissingField
	}
	return json.Unmarshal(data, v)
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", errMissingField, name)
	}
	return nil
}

// UnmarshalJSON decodes the envelope and the payload selected by event.
func (m *ClientMessage) UnmarshalJSON(b []byte) error {
	var env struct {
		Id    string          `json:"id"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}

	*m = ClientMessage{Id: env.Id, Event: env.Event}

	switch env.Event {
	case EventJoinLecture, EventLeaveLecture, EventClearQuestions:
		var ref LectureRef
		if err := decodeData(env.Data, &ref); err != nil {
			return err
		}
		if err := requireField("lectureId", ref.LectureId); err != nil {
			return err
		}
		switch env.Event {
		case EventJoinLecture:
			m.Join = &ref
		case EventLeaveLecture:
			m.Leave = &ref
		default:
			m.Clear = &ref
		}
	case EventAskQuestion:
		var ask Ask
		if err := decodeData(env.Data, &ask); err != nil {
			return err
		}
		if err := requireField("lectureId", ask.LectureId); err != nil {
			return err
		}
		m.Ask = &ask
	case EventToggleImportant:
		var ti ToggleImportant
		if err := decodeData(env.Data, &ti); err != nil {
			return err
		}
		if err := requireField("questionId", ti.QuestionId); err != nil {
			return err
		}
		m.ToggleImportant = &ti
	case EventUpdateQuestionStatus:
		var us UpdateQuestionStatus
		if err := decodeData(env.Data, &us); err != nil {
			return err
		}
		if err := requireField("questionId", us.QuestionId); err != nil {
			return err
		}
		m.UpdateStatus = &us
	case EventUpdateQuestion:
		var u UpdateQuestion
		if err := decodeData(env.Data, &u); err != nil {
			return err
		}
		if err := requireField("questionId", u.QuestionId); err != nil {
			return err
		}
		m.Update = &u
	case EventDeleteQuestion:
		var ref QuestionRef
		if err := decodeData(env.Data, &ref); err != nil {
			return err
		}
		if err := requireField("questionId", ref.QuestionId); err != nil {
			return err
		}
		m.Delete = &ref
	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}

	return nil
}

type ServerMessage struct {
	Id        string    `json:"id,omitempty"`
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type LectureData struct {
	Lecture      types.Lecture    `json:"lecture"`
	Questions    []types.Question `json:"questions"`
	Participants int              `json:"participants"`
}

type ParticipantCount struct {
	Count int `json:"count"`
}

type QuestionPayload struct {
	Question types.Question `json:"question"`
}

type QuestionDeleted struct {
	QuestionId string `json:"questionId"`
}

type QuestionsCleared struct {
	LectureId string `json:"lectureId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Reason  Reason `json:"reason"`
}

func newServerMessage(id, event string, data any) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Event:     event,
		Data:      data,
		Timestamp: Now(),
	}
}

func LectureDataMsg(id string, lecture types.Lecture, questions []types.Question, participants int) *ServerMessage {
	return newServerMessage(id, EventLectureData, LectureData{
		Lecture:      lecture,
		Questions:    questions,
		Participants: participants,
	})
}

func ParticipantCountMsg(count int) *ServerMessage {
	return newServerMessage("", EventParticipantCount, ParticipantCount{Count: count})
}

func NewQuestionMsg(id string, q types.Question) *ServerMessage {
	return newServerMessage(id, EventNewQuestion, QuestionPayload{Question: q})
}

func QuestionUpdatedMsg(id string, q types.Question) *ServerMessage {
	return newServerMessage(id, EventQuestionUpdated, QuestionPayload{Question: q})
}

func QuestionDeletedMsg(id, questionId string) *ServerMessage {
	return newServerMessage(id, EventQuestionDeleted, QuestionDeleted{QuestionId: questionId})
}

func QuestionsClearedMsg(id, lectureId string) *ServerMessage {
	return newServerMessage(id, EventQuestionsCleared, QuestionsCleared{LectureId: lectureId})
}

func ErrorMsg(id string, err *Error) *ServerMessage {
	return newServerMessage(id, EventError, ErrorPayload{
		Message: err.Message,
		Reason:  err.Reason,
	})
}

func ErrInvalidMessage(id string) *ServerMessage {
	return ErrorMsg(id, errValidation("invalid message format"))
}

func ErrServiceUnavailable(id string) *ServerMessage {
	return ErrorMsg(id, errServiceUnavailable())
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
