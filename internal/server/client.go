package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/lecture-qa/internal/auth"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one authenticated websocket connection.
type Client struct {
	id        string
	conn      *websocket.Conn
	ls        *LectureServer
	log       *zap.Logger
	user      auth.Identity
	send      chan *ServerMessage
	rooms     map[string]*Room
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClient(user auth.Identity, conn *websocket.Conn, ls *LectureServer, l *zap.Logger) *Client {
	id := shortid.MustGenerate()
	return &Client{
		id:    id,
		conn:  conn,
		ls:    ls,
		log:   l.With(zap.String("conn", id), zap.String("user_id", user.Id)),
		user:  user,
		send:  make(chan *ServerMessage, 256),
		rooms: make(map[string]*Room),
		stop:  make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Error("failed to serialize message", zap.Error(err))
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("ws read", zap.Error(err))
			}
			break
		}

		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug("error parsing message", zap.Error(err))
		c.queueMessage(ErrInvalidMessage(peekId(raw)))
		return
	}

	msg.client = c
	msg.Timestamp = Now()
	c.dispatch(&msg)
}

// peekId recovers the correlation id of a message whose payload is invalid.
func peekId(raw []byte) string {
	var env struct {
		Id string `json:"id"`
	}
	if json.Unmarshal(raw, &env) != nil {
		return ""
	}
	return env.Id
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.joinLecture(msg)
		return
	case msg.Leave != nil:
		c.leaveLecture(msg)
		return
	}

	m, ok := mutationFromMessage(msg)
	if !ok {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	var lectureId string
	switch {
	case msg.Ask != nil:
		lectureId = msg.Ask.LectureId
	case msg.Clear != nil:
		lectureId = msg.Clear.LectureId
	default:
		id, err := c.ls.lectureForQuestion(m.QuestionId)
		if err != nil {
			c.queueMessage(ErrorMsg(msg.Id, err))
			return
		}
		lectureId = id
	}

	c.submit(&mutationReq{
		id:        msg.Id,
		lectureId: lectureId,
		actor:     c.user,
		mutation:  m,
		client:    c,
	})
}

func (c *Client) submit(req *mutationReq) {
	r := c.getRoom(req.lectureId)
	if r == nil {
		c.queueMessage(ErrorMsg(req.id, errNotJoined()))
		return
	}

	select {
	case r.mutationChan <- req:
	default:
		c.log.Warn("mutation channel full", zap.String("lecture_id", r.lectureId))
		c.queueMessage(ErrServiceUnavailable(req.id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("write message", zap.Error(err))
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// closed reports whether the connection has been stopped.
func (c *Client) closed() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// cleanup stops the client before leaving its rooms, so a join still queued
// for it is rejected by the room instead of adding a dead member.
func (c *Client) cleanup() {
	c.stopClient()
	c.ls.DeRegisterClient(c)
	c.leaveAllRooms()
}

// leaveAllRooms leaves every joined room. The room set is copied first so
// the lock is not held while rooms update it. Each leave waits for room
// capacity unless the room has exited, which drops its members itself.
func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.roomsLock.RUnlock()

	for _, room := range rooms {
		select {
		case room.leaveChan <- &ClientMessage{
			Event:  EventLeaveLecture,
			Leave:  &LectureRef{LectureId: room.lectureId},
			client: c,
		}:
		case <-room.done:
		}
	}
}

func (c *Client) joinLecture(msg *ClientMessage) {
	select {
	case c.ls.joinChan <- msg:
	default:
		c.log.Warn("join channel full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) leaveLecture(msg *ClientMessage) {
	r := c.getRoom(msg.Leave.LectureId)
	if r == nil {
		return
	}

	select {
	case r.leaveChan <- msg:
	default:
		c.log.Warn("leave channel full", zap.String("lecture_id", r.lectureId))
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.lectureId] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}
