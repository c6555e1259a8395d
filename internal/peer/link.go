package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/screenlink/signaling/internal/protocol"
)

const (
	// linkPingInterval is the application-level keepalive cadence; it keeps
	// the connection inside the server's idle window.
	linkPingInterval = 30 * time.Second

	linkWriteTimeout = 10 * time.Second
)

// Link is a client connection to the signaling server. Inbound messages are
// delivered on Messages; Send is safe from any goroutine.
type Link struct {
	ws  *websocket.Conn
	log *slog.Logger

	msgs chan *protocol.Message
	done chan struct{}

	closeOnce sync.Once

	writeMu sync.Mutex
}

// DialLink connects to the signaling endpoint (a ws:// or wss:// URL) and
// starts the read and keepalive pumps.
func DialLink(ctx context.Context, url string, log *slog.Logger) (*Link, error) {
	if log == nil {
		log = slog.Default()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	l := &Link{
		ws:   ws,
		log:  log,
		msgs: make(chan *protocol.Message, 16),
		done: make(chan struct{}),
	}
	go l.readPump()
	go l.pingPump()
	return l, nil
}

// Messages is the inbound stream. It closes when the link goes away.
func (l *Link) Messages() <-chan *protocol.Message {
	return l.msgs
}

// Send writes one message to the server.
func (l *Link) Send(msg *protocol.Message) error {
	select {
	case <-l.done:
		return errors.New("link closed")
	default:
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.ws.SetWriteDeadline(time.Now().Add(linkWriteTimeout))
	if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.ws.Close()
	})
	return err
}

func (l *Link) readPump() {
	defer close(l.msgs)
	defer l.Close()

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Debug("link read failed", "err", err)
			}
			return
		}
		msg, err := protocol.Parse(data)
		if err != nil {
			l.log.Warn("dropping malformed server message", "err", err)
			continue
		}
		select {
		case l.msgs <- msg:
		case <-l.done:
			return
		}
	}
}

func (l *Link) pingPump() {
	ticker := time.NewTicker(linkPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.Send(&protocol.Message{Type: protocol.KindPing}); err != nil {
				return
			}
		}
	}
}
