package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/screenlink/signaling/internal/metrics"
	"github.com/screenlink/signaling/internal/protocol"
	"github.com/screenlink/signaling/internal/room"
)

const (
	// sendQueueLen bounds per-connection outbound buffering. Signaling traffic
	// is a handful of small messages; a peer that cannot drain 32 of them is
	// effectively unwritable.
	sendQueueLen = 32

	writeTimeout = 10 * time.Second
)

// conn is one signaling WebSocket connection. The read loop is the only
// reader and the write loop the only writer of the underlying socket; all
// outbound traffic goes through the send queue.
type conn struct {
	srv *Server
	ws  *websocket.Conn
	log *slog.Logger

	send chan *protocol.Message
	done chan struct{}

	closeOnce sync.Once

	mu           sync.Mutex
	userID       string
	joined       bool
	alive        bool
	lastActivity time.Time
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	return &conn{
		srv:          s,
		ws:           ws,
		log:          s.log.With("remote_addr", ws.RemoteAddr().String()),
		send:         make(chan *protocol.Message, sendQueueLen),
		done:         make(chan struct{}),
		alive:        true,
		lastActivity: time.Now(),
	}
}

// UserID implements room.Member. Empty until a join is accepted.
func (c *conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Deliver implements room.Member. It never blocks: a full queue or a closed
// connection reports the member unwritable and the message is dropped.
func (c *conn) Deliver(msg *protocol.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *conn) markAlive() {
	c.mu.Lock()
	c.alive = true
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *conn) livenessState() (alive bool, lastActivity time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive, c.lastActivity
}

// probe sends a transport-level ping and arms the unresponsiveness check: if
// no pong arrives before the next sweep, the connection is terminated.
func (c *conn) probe() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		c.close()
	}
}

// close tears the connection down exactly once: room membership is released,
// the write loop is told to drain and close the socket, and the server
// forgets the connection. Every disconnect path, clean or not, funnels here.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.srv.registry.Leave(c)
		c.srv.removeConn(c)
		c.srv.metrics.Inc(metrics.ConnectionClosed)
		close(c.done)
	})
}

func (c *conn) readLoop() {
	defer c.close()

	c.ws.SetReadLimit(c.srv.cfg.MaxSignalingMessageBytes)
	c.ws.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	perSecond := c.srv.cfg.MaxSignalingMessagesPerSecond
	limiter := rate.NewLimiter(rate.Limit(perSecond), perSecond)

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("connection read failed", "err", err)
			}
			return
		}
		c.touch()

		if kind != websocket.TextMessage {
			c.srv.metrics.Inc(metrics.MalformedMessage)
			c.log.Warn("dropping non-text frame", "frame_type", kind)
			continue
		}

		if !limiter.Allow() {
			c.srv.metrics.Inc(metrics.RateLimited)
			c.log.Warn("closing connection exceeding message rate", "limit_per_second", perSecond)
			c.shutdown(protocol.ErrorMessage("message rate limit exceeded"))
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			// Malformed input is logged and dropped; the connection stays open
			// so one bad message cannot tear down an established session.
			c.srv.metrics.Inc(metrics.MalformedMessage)
			c.log.Warn("dropping malformed message", "err", err)
			continue
		}

		if done := c.dispatch(msg); done {
			return
		}
	}
}

// dispatch handles one parsed inbound message. It returns true when the
// connection should terminate.
func (c *conn) dispatch(msg *protocol.Message) bool {
	switch {
	case msg.Type == protocol.KindPing:
		c.Deliver(&protocol.Message{Type: protocol.KindPong})
		return false

	case msg.Type == protocol.KindPong:
		// Application-level pong; activity already refreshed.
		return false

	case msg.Type == protocol.KindJoin:
		return c.handleJoin(msg)

	case msg.Relayed():
		c.mu.Lock()
		joined := c.joined
		c.mu.Unlock()
		if !joined {
			c.srv.metrics.Inc(metrics.MalformedMessage)
			c.log.Warn("dropping relayed message before join", "type", msg.Type)
			return false
		}
		c.srv.registry.Forward(c, msg)
		return false

	default:
		// Server-to-client kinds arriving inbound (room-users, user-joined,
		// user-left, error) have no server handling.
		c.srv.metrics.Inc(metrics.MalformedMessage)
		c.log.Warn("dropping message with no inbound handling", "type", msg.Type)
		return false
	}
}

func (c *conn) handleJoin(msg *protocol.Message) bool {
	c.mu.Lock()
	alreadyJoined := c.joined
	c.mu.Unlock()
	if alreadyJoined {
		c.log.Warn("dropping second join on one connection", "room", msg.RoomID, "user", msg.UserID)
		c.Deliver(protocol.ErrorMessage("already joined a room"))
		return false
	}

	// Admission order: resource pressure first, then room capacity.
	if !c.srv.memoryOK() {
		c.srv.metrics.Inc(metrics.ResourcePressure)
		c.log.Warn("rejecting join under resource pressure", "room", msg.RoomID, "user", msg.UserID)
		c.shutdown(protocol.ErrorMessage("server is under resource pressure, try again later"))
		return true
	}

	c.mu.Lock()
	c.userID = msg.UserID
	c.mu.Unlock()

	peers, err := c.srv.registry.Join(msg.RoomID, c)
	if err != nil {
		c.mu.Lock()
		c.userID = ""
		c.mu.Unlock()

		switch {
		case errors.Is(err, room.ErrRoomFull):
			c.shutdown(protocol.ErrorMessage("room is full"))
		case errors.Is(err, room.ErrTooManyRooms):
			c.shutdown(protocol.ErrorMessage("server is at room capacity, try again later"))
		default:
			c.shutdown(protocol.ErrorMessage("join failed"))
		}
		return true
	}

	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()

	c.Deliver(&protocol.Message{Type: protocol.KindRoomUsers, Users: peers})
	return false
}

// shutdown queues a final message and closes. The write loop drains the queue
// before closing the socket, so the message reaches the peer when the
// transport still can.
func (c *conn) shutdown(msg *protocol.Message) {
	c.Deliver(msg)
	c.close()
}

func (c *conn) writeLoop() {
	defer c.ws.Close()

	for {
		select {
		case msg := <-c.send:
			if !c.writeMessage(msg) {
				c.close()
				return
			}
		case <-c.done:
			// Drain messages queued before the close was requested, then let
			// the deferred Close unblock the read loop.
			for {
				select {
				case msg := <-c.send:
					if !c.writeMessage(msg) {
						return
					}
				default:
					c.ws.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeTimeout),
					)
					return
				}
			}
		}
	}
}

func (c *conn) writeMessage(msg *protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.log.Error("encode outbound message", "type", msg.Type, "err", err)
		return true
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Debug("connection write failed", "err", err)
		return false
	}
	return true
}
