package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/lecture-qa/internal/auth"
	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/policy"
	"github.com/npezzotti/lecture-qa/internal/stats"
	"github.com/npezzotti/lecture-qa/internal/types"
	"go.uber.org/zap"
)

type unloadRoomRequest struct {
	lectureId string
}

type stopReq struct {
	done chan struct{}
}

// LectureServer owns the loaded rooms and the connected clients. Rooms are
// created and unloaded only by the Run loop.
type LectureServer struct {
	log            *zap.Logger
	db             database.Repository
	stats          stats.StatsProvider
	now            func() time.Time
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	roomsMap       sync.Map
	numRooms       int
	joinChan       chan *ClientMessage
	routeChan      chan *mutationReq
	unloadRoomChan chan unloadRoomRequest
	stop           chan stopReq
}

func NewLectureServer(logger *zap.Logger, db database.Repository, su stats.StatsProvider) *LectureServer {
	su.RegisterMetric(stats.NumActiveRooms)
	su.RegisterMetric(stats.NumConnectedClients)
	su.RegisterMetric(stats.NumQuestionsAsked)

	return &LectureServer{
		log:            logger,
		db:             db,
		stats:          su,
		now:            time.Now,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		routeChan:      make(chan *mutationReq, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		stop:           make(chan stopReq),
	}
}

func (ls *LectureServer) Run() {
	for {
		select {
		case join := <-ls.joinChan:
			ls.handleJoinLecture(join)
		case req := <-ls.routeChan:
			ls.handleRoute(req)
		case req := <-ls.unloadRoomChan:
			ls.unloadRoom(req.lectureId, true)
		case req := <-ls.stop:
			ls.log.Info("shutting down lecture server")
			ls.stopClients()
			ls.unloadAllRooms()
			close(req.done)
			return
		}
	}
}

// Shutdown disconnects every client and unloads every room.
func (ls *LectureServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case ls.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit applies a mutation on behalf of a request that has no socket. It
// is queued behind socket requests for the same lecture and its result is
// broadcast to the room like any other.
func (ls *LectureServer) Submit(ctx context.Context, lectureId string, actor auth.Identity, m Mutation) (*ServerMessage, error) {
	req := &mutationReq{
		lectureId: lectureId,
		actor:     actor,
		mutation:  m,
		result:    make(chan mutationResult, 1),
	}

	select {
	case ls.routeChan <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.result:
		if res.err != nil {
			return nil, res.err
		}
		return res.msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CheckJoin applies the join rules without joining a room.
func (ls *LectureServer) CheckJoin(lectureId string, actor auth.Identity) (types.Lecture, error) {
	lecture, course, err := ls.resolveLecture(lectureId)
	if err != nil {
		return types.Lecture{}, err
	}
	if !policy.CanJoin(actor.Id, actor.Role, course) {
		return types.Lecture{}, errForbidden("not allowed to join this lecture")
	}

	return types.NewLecture(lecture, ls.now()), nil
}

// resolveLecture loads a lecture and its course, failing when the lecture is
// outside its time window at the current time.
func (ls *LectureServer) resolveLecture(lectureId string) (database.Lecture, database.Course, *Error) {
	lecture, err := ls.db.GetLectureById(lectureId)
	if err != nil {
		return database.Lecture{}, database.Course{}, storeError(err, "lecture")
	}

	if !policy.IsOngoing(lecture.StartTime, lecture.EndTime, ls.now()) {
		return database.Lecture{}, database.Course{}, errNotOngoing()
	}

	course, err := ls.db.GetCourseById(lecture.CourseId)
	if err != nil {
		return database.Lecture{}, database.Course{}, storeError(err, "course")
	}

	return lecture, course, nil
}

// loadRoom returns the room for lectureId, starting it if the lecture exists.
func (ls *LectureServer) loadRoom(lectureId string) (*Room, *Error) {
	if room, ok := ls.getRoom(lectureId); ok {
		return room, nil
	}

	if _, err := ls.db.GetLectureById(lectureId); err != nil {
		e := storeError(err, "lecture")
		if e.Reason == ReasonUnexpected {
			ls.log.Error("GetLectureById", zap.String("lecture_id", lectureId), zap.Error(err))
		}
		return nil, e
	}

	room := newRoom(lectureId, ls)
	ls.addRoom(lectureId, room)
	go room.start()

	return room, nil
}

func (ls *LectureServer) handleJoinLecture(join *ClientMessage) {
	room, err := ls.loadRoom(join.Join.LectureId)
	if err != nil {
		join.client.queueMessage(ErrorMsg(join.Id, err))
		return
	}

	select {
	case room.joinChan <- join:
	default:
		ls.log.Warn("join channel full", zap.String("lecture_id", room.lectureId))
		join.client.queueMessage(ErrServiceUnavailable(join.Id))
	}
}

func (ls *LectureServer) handleRoute(req *mutationReq) {
	room, err := ls.loadRoom(req.lectureId)
	if err != nil {
		req.reply(nil, err)
		return
	}

	select {
	case room.mutationChan <- req:
	default:
		ls.log.Warn("mutation channel full", zap.String("lecture_id", room.lectureId))
		req.reply(nil, errServiceUnavailable())
	}
}

// unloadRoom stops a room. An idle unload leaves the room running when a
// client joined after its timer fired. Requests still queued on an unloaded
// room are routed again.
func (ls *LectureServer) unloadRoom(lectureId string, idle bool) {
	room, ok := ls.getRoom(lectureId)
	if !ok {
		return
	}

	done := make(chan exitResult, 1)
	room.exit <- exitReq{idle: idle, done: done}
	res := <-done
	if !res.exited {
		return
	}

	ls.removeRoom(lectureId)
	ls.log.Debug("unloaded room", zap.String("lecture_id", lectureId))

	if !idle {
		for _, req := range res.mutations {
			req.reply(nil, errServiceUnavailable())
		}
		for _, join := range res.joins {
			join.client.queueMessage(ErrServiceUnavailable(join.Id))
		}
		return
	}

	for _, join := range res.joins {
		ls.handleJoinLecture(join)
	}
	for _, req := range res.mutations {
		ls.handleRoute(req)
	}
}

func (ls *LectureServer) unloadAllRooms() {
	var ids []string
	ls.roomsMap.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})

	for _, id := range ids {
		ls.unloadRoom(id, false)
	}
}

func (ls *LectureServer) addRoom(lectureId string, room *Room) {
	ls.roomsMap.Store(lectureId, room)
	ls.numRooms++
	ls.stats.Incr(stats.NumActiveRooms)
}

func (ls *LectureServer) getRoom(lectureId string) (*Room, bool) {
	room, ok := ls.roomsMap.Load(lectureId)
	if !ok {
		return nil, false
	}

	return room.(*Room), true
}

func (ls *LectureServer) removeRoom(lectureId string) {
	if _, ok := ls.roomsMap.LoadAndDelete(lectureId); ok {
		ls.numRooms--
		ls.stats.Decr(stats.NumActiveRooms)
	}
}

// RegisterClient makes c reachable for shutdown.
func (ls *LectureServer) RegisterClient(c *Client) {
	ls.addClient(c)
}

func (ls *LectureServer) DeRegisterClient(c *Client) {
	ls.removeClient(c)
}

func (ls *LectureServer) addClient(c *Client) {
	ls.clientsLock.Lock()
	defer ls.clientsLock.Unlock()

	ls.clients[c] = struct{}{}
	ls.stats.Incr(stats.NumConnectedClients)
}

func (ls *LectureServer) removeClient(c *Client) {
	ls.clientsLock.Lock()
	defer ls.clientsLock.Unlock()

	if _, ok := ls.clients[c]; !ok {
		return
	}

	delete(ls.clients, c)
	ls.stats.Decr(stats.NumConnectedClients)
}

func (ls *LectureServer) stopClients() {
	ls.clientsLock.Lock()
	defer ls.clientsLock.Unlock()

	for c := range ls.clients {
		c.stopClient()
	}
}

// lectureForQuestion finds the lecture a question belongs to.
func (ls *LectureServer) lectureForQuestion(questionId string) (string, *Error) {
	q, err := ls.db.GetQuestionById(questionId)
	if err != nil {
		e := storeError(err, "question")
		if e.Reason == ReasonUnexpected {
			ls.log.Error("GetQuestionById", zap.String("question_id", questionId), zap.Error(err))
		}
		return "", e
	}

	return q.LectureId, nil
}

// LectureForQuestion is lectureForQuestion for callers outside the package.
func (ls *LectureServer) LectureForQuestion(questionId string) (string, error) {
	id, err := ls.lectureForQuestion(questionId)
	if err != nil {
		return "", err
	}
	return id, nil
}

var errEmptyLectureId = errors.New("lectureId cannot be empty")

// UnloadRoom asks the Run loop to unload an idle room.
func (ls *LectureServer) UnloadRoom(ctx context.Context, lectureId string) error {
	if lectureId == "" {
		return errEmptyLectureId
	}

	select {
	case ls.unloadRoomChan <- unloadRoomRequest{lectureId: lectureId}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("unload room %q: %w", lectureId, ctx.Err())
	}
}
