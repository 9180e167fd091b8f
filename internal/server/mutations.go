package server

import (
	"strings"

	"github.com/npezzotti/lecture-qa/internal/auth"
	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/policy"
	"github.com/npezzotti/lecture-qa/internal/stats"
	"github.com/npezzotti/lecture-qa/internal/types"
	"go.uber.org/zap"
)

// Mutation is a change to the question list of one lecture. Kind is the
// inbound event name that requests it.
type Mutation struct {
	Kind        string
	QuestionId  string
	Content     string
	Status      *database.QuestionStatus
	IsImportant *bool
}

type mutationResult struct {
	msg *ServerMessage
	err *Error
}

// mutationReq is queued on a room. Socket requests carry the client,
// HTTP requests carry a result channel.
type mutationReq struct {
	id        string
	lectureId string
	actor     auth.Identity
	mutation  Mutation
	client    *Client
	result    chan mutationResult
}

func (req *mutationReq) reply(msg *ServerMessage, err *Error) {
	if err != nil && req.client != nil {
		req.client.queueMessage(ErrorMsg(req.id, err))
	}
	if req.result != nil {
		req.result <- mutationResult{msg: msg, err: err}
	}
}

// mutationFromMessage converts an inbound event into a Mutation.
func mutationFromMessage(msg *ClientMessage) (Mutation, bool) {
	switch {
	case msg.Ask != nil:
		return Mutation{Kind: EventAskQuestion, Content: msg.Ask.Content}, true
	case msg.ToggleImportant != nil:
		return Mutation{
			Kind:        EventToggleImportant,
			QuestionId:  msg.ToggleImportant.QuestionId,
			IsImportant: msg.ToggleImportant.IsImportant,
		}, true
	case msg.UpdateStatus != nil:
		status := msg.UpdateStatus.Status
		return Mutation{
			Kind:       EventUpdateQuestionStatus,
			QuestionId: msg.UpdateStatus.QuestionId,
			Status:     &status,
		}, true
	case msg.Update != nil:
		status := msg.Update.Updates.Status
		// an empty status leaves the status unchanged
		if status != nil && *status == "" {
			status = nil
		}
		return Mutation{
			Kind:        EventUpdateQuestion,
			QuestionId:  msg.Update.QuestionId,
			Status:      status,
			IsImportant: msg.Update.Updates.IsImportant,
		}, true
	case msg.Delete != nil:
		return Mutation{Kind: EventDeleteQuestion, QuestionId: msg.Delete.QuestionId}, true
	case msg.Clear != nil:
		return Mutation{Kind: EventClearQuestions}, true
	}

	return Mutation{}, false
}

// applyMutation validates req against the lecture at the current time and
// writes it to the store. The returned message is the broadcast.
func (r *Room) applyMutation(req *mutationReq) (*ServerMessage, *Error) {
	_, course, err := r.ls.resolveLecture(r.lectureId)
	if err != nil {
		return nil, err
	}

	m := req.mutation
	if m.Kind == EventAskQuestion {
		if !policy.CanAsk(req.actor.Id, course) {
			return nil, errForbidden("only enrolled students can ask questions")
		}
		return r.ask(req)
	}

	if !policy.CanModerate(req.actor.Id, req.actor.Role, course) {
		return nil, errForbidden("not allowed to moderate questions")
	}

	switch m.Kind {
	case EventToggleImportant:
		if m.IsImportant == nil {
			return nil, errValidation("isImportant is required")
		}
		q, dbErr := r.ls.db.SetQuestionImportant(m.QuestionId, r.lectureId, *m.IsImportant)
		if dbErr != nil {
			return nil, storeError(dbErr, "question")
		}
		return QuestionUpdatedMsg(req.id, types.NewQuestion(q)), nil
	case EventUpdateQuestionStatus:
		if m.Status == nil || !m.Status.Valid() {
			return nil, errValidation("invalid status value")
		}
		q, dbErr := r.ls.db.SetQuestionStatus(m.QuestionId, r.lectureId, *m.Status)
		if dbErr != nil {
			return nil, storeError(dbErr, "question")
		}
		return QuestionUpdatedMsg(req.id, types.NewQuestion(q)), nil
	case EventUpdateQuestion:
		return r.update(req)
	case EventDeleteQuestion:
		if dbErr := r.ls.db.DeleteQuestion(m.QuestionId, r.lectureId); dbErr != nil {
			return nil, storeError(dbErr, "question")
		}
		return QuestionDeletedMsg(req.id, m.QuestionId), nil
	case EventClearQuestions:
		n, dbErr := r.ls.db.DeleteQuestionsByLecture(r.lectureId)
		if dbErr != nil {
			return nil, errUnexpected(dbErr)
		}
		r.log.Debug("cleared questions", zap.Int64("count", n))
		return QuestionsClearedMsg(req.id, r.lectureId), nil
	}

	return nil, errValidation("unknown operation")
}

func (r *Room) ask(req *mutationReq) (*ServerMessage, *Error) {
	content := strings.TrimSpace(req.mutation.Content)
	if content == "" {
		return nil, errValidation("question content cannot be empty")
	}

	q, err := r.ls.db.CreateQuestion(database.CreateQuestionParams{
		LectureId: r.lectureId,
		AskedBy:   req.actor.Id,
		Content:   content,
	})
	if err != nil {
		return nil, storeError(err, "user")
	}

	r.ls.stats.Incr(stats.NumQuestionsAsked)
	return NewQuestionMsg(req.id, types.NewQuestion(q)), nil
}

// update applies a status and importance change together in one store write.
func (r *Room) update(req *mutationReq) (*ServerMessage, *Error) {
	m := req.mutation
	if m.Status == nil && m.IsImportant == nil {
		return nil, errValidation("no updates given")
	}
	if m.Status != nil && !m.Status.Valid() {
		return nil, errValidation("invalid status value")
	}

	q, err := r.ls.db.UpdateQuestion(m.QuestionId, r.lectureId, m.Status, m.IsImportant)
	if err != nil {
		return nil, storeError(err, "question")
	}

	return QuestionUpdatedMsg(req.id, types.NewQuestion(q)), nil
}
