// Package server implements the signaling relay's WebSocket surface: per
// connection read/write pumps, the relay dispatcher, admission control, and
// the liveness sweep that reclaims dead or idle connections.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/screenlink/signaling/internal/config"
	"github.com/screenlink/signaling/internal/metrics"
	"github.com/screenlink/signaling/internal/room"
)

// Server accepts signaling WebSocket connections and routes messages between
// room occupants. It also owns the connection supervisor (RunSweeper).
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	registry *room.Registry
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	// memoryOK is the admission probe; overridden in tests.
	memoryOK func() bool

	mu        sync.Mutex
	conns     map[*conn]struct{}
	lastSweep time.Time
}

func New(cfg config.Config, log *slog.Logger, registry *room.Registry, m *metrics.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  m,
		upgrader: websocket.Upgrader{
			// The relay performs no origin policing: rooms are capacity-bounded
			// and carry no credentials worth protecting cross-origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		memoryOK: func() bool { return heapWithinBudget(cfg.MaxMemoryMB) },
		conns:    make(map[*conn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newConn(s, ws)
	s.addConn(c)
	s.log.Debug("connection opened", "remote_addr", ws.RemoteAddr().String())

	go c.writeLoop()
	c.readLoop()
}

func (s *Server) addConn(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Connections reports the number of open signaling connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Rooms reports the number of live rooms, for health reporting.
func (s *Server) Rooms() int {
	return s.registry.Rooms()
}

// LastSweep reports when the liveness sweep last ran (zero before the first
// sweep).
func (s *Server) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

// RunSweeper runs the liveness sweep until ctx is cancelled.
//
// Each sweep terminates connections whose previous probe went unanswered and
// connections idle beyond IdleTimeout, then probes the survivors. Termination
// funnels through the same disconnect path as a clean close, so the room
// registry is always cleaned up.
func (s *Server) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Server) sweep(now time.Time) {
	s.mu.Lock()
	s.lastSweep = now
	s.mu.Unlock()

	for _, c := range s.connsSnapshot() {
		alive, last := c.livenessState()

		if !alive {
			s.metrics.Inc(metrics.ProbeTimeout)
			s.log.Info("terminating unresponsive connection", "user", c.UserID())
			c.close()
			continue
		}
		if idle := now.Sub(last); idle > s.cfg.IdleTimeout {
			// Catches peers that still answer transport probes but stopped
			// sending application messages.
			s.metrics.Inc(metrics.IdleTimeout)
			s.log.Info("terminating idle connection", "user", c.UserID(), "idle", idle)
			c.close()
			continue
		}

		c.probe()
	}
}

// Close terminates every open connection. Used on shutdown.
func (s *Server) Close() {
	for _, c := range s.connsSnapshot() {
		c.close()
	}
}

func (s *Server) connsSnapshot() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}
