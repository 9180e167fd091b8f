package server

import (
	"sync"
	"time"

	"github.com/npezzotti/lecture-qa/internal/policy"
	"github.com/npezzotti/lecture-qa/internal/types"
	"go.uber.org/zap"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	// idle asks the room to exit only if it has no members.
	idle bool
	done chan exitResult
}

// exitResult hands requests that were still queued back to the server.
type exitResult struct {
	lectureId string
	exited    bool
	joins     []*ClientMessage
	mutations []*mutationReq
}

// Room is the broadcast group of one lecture. Its goroutine is the only
// writer of the lecture's questions, so requests are applied in the order
// they are received.
type Room struct {
	lectureId    string
	ls           *LectureServer
	log          *zap.Logger
	joinChan     chan *ClientMessage
	leaveChan    chan *ClientMessage
	mutationChan chan *mutationReq
	clients      map[*Client]struct{}
	clientLock   sync.RWMutex
	// killTimer unloads the room after it has been empty for idleRoomTimeout
	killTimer *time.Timer
	exit      chan exitReq
	// done is closed when the room goroutine returns
	done chan struct{}
}

func newRoom(lectureId string, ls *LectureServer) *Room {
	return &Room{
		lectureId:    lectureId,
		ls:           ls,
		log:          ls.log.With(zap.String("lecture_id", lectureId)),
		joinChan:     make(chan *ClientMessage, 256),
		leaveChan:    make(chan *ClientMessage, 256),
		mutationChan: make(chan *mutationReq, 256),
		clients:      make(map[*Client]struct{}),
		exit:         make(chan exitReq),
		done:         make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Debug("starting room")
	defer close(r.done)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case req := <-r.mutationChan:
			r.handleMutation(req)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
			continue
		case e := <-r.exit:
			if r.handleRoomExit(e) {
				return
			}
		}

		r.resetIdleTimer()
	}
}

func (r *Room) resetIdleTimer() {
	if r.numClients() == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	} else {
		r.killTimer.Stop()
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Debug("room timed out")
	select {
	case r.ls.unloadRoomChan <- unloadRoomRequest{lectureId: r.lectureId}:
	default:
		r.log.Warn("unload channel full, retrying later")
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handleRoomExit reports whether the room goroutine should return.
func (r *Room) handleRoomExit(e exitReq) bool {
	if e.idle && r.numClients() > 0 {
		r.log.Debug("room became active again, staying loaded")
		e.done <- exitResult{lectureId: r.lectureId, exited: false}
		return false
	}

	r.log.Debug("room is exiting")
	if r.killTimer != nil {
		r.killTimer.Stop()
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.lectureId)
		delete(r.clients, c)
	}
	r.clientLock.Unlock()

	res := exitResult{lectureId: r.lectureId, exited: true}
	for {
		select {
		case join := <-r.joinChan:
			res.joins = append(res.joins, join)
		case req := <-r.mutationChan:
			res.mutations = append(res.mutations, req)
		case <-r.leaveChan:
		default:
			e.done <- res
			return true
		}
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	c := join.client

	lecture, course, err := r.ls.resolveLecture(r.lectureId)
	if err == nil && !policy.CanJoin(c.user.Id, c.user.Role, course) {
		err = errForbidden("not allowed to join this lecture")
	}
	if err != nil {
		r.log.Debug("join rejected", zap.String("user_id", c.user.Id), zap.Error(err))
		c.queueMessage(ErrorMsg(join.Id, err))
		return
	}

	questions, dbErr := r.ls.db.ListQuestions(r.lectureId)
	if dbErr != nil {
		r.log.Error("ListQuestions", zap.Error(dbErr))
		c.queueMessage(ErrorMsg(join.Id, errUnexpected(dbErr)))
		return
	}

	r.addClient(c)
	// the connection may have dropped while the join was queued
	if c.closed() {
		r.removeClient(c)
		r.log.Debug("join from closed client dropped", zap.String("user_id", c.user.Id))
		return
	}
	count := r.numClients()

	c.queueMessage(LectureDataMsg(
		join.Id,
		types.NewLecture(lecture, r.ls.now()),
		types.NewQuestions(questions),
		count,
	))

	r.broadcast(ParticipantCountMsg(count))
}

func (r *Room) handleLeave(leave *ClientMessage) {
	if !r.removeClient(leave.client) {
		return
	}

	r.broadcast(ParticipantCountMsg(r.numClients()))
}

func (r *Room) handleMutation(req *mutationReq) {
	msg, err := r.applyMutation(req)
	if err != nil {
		if err.Reason == ReasonUnexpected {
			r.log.Error("mutation failed", zap.String("event", req.mutation.Kind), zap.Error(err))
		} else {
			r.log.Debug("mutation rejected", zap.String("event", req.mutation.Kind), zap.Error(err))
		}
		req.reply(nil, err)
		return
	}

	r.broadcast(msg)
	req.reply(msg, nil)
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.addRoom(r)
}

// removeClient reports whether c was a member.
func (r *Room) removeClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	c.delRoom(r.lectureId)
	return true
}

func (r *Room) hasClient(c *Client) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	return ok
}

func (r *Room) numClients() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients)
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	r.log.Debug("broadcast", zap.String("event", msg.Event), zap.Int("clients", len(r.clients)))
	for client := range r.clients {
		client.queueMessage(msg)
	}
}
