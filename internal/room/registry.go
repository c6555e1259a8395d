// Package room implements the server-side room registry: the mapping from
// room identifiers to connected participants, capacity enforcement, and
// empty-room reclamation.
package room

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/screenlink/signaling/internal/metrics"
	"github.com/screenlink/signaling/internal/protocol"
)

var (
	// ErrRoomFull is returned when a room already holds its maximum number of
	// participants.
	ErrRoomFull = errors.New("room is full")

	// ErrTooManyRooms is returned when creating another room would exceed the
	// global room cap.
	ErrTooManyRooms = errors.New("too many rooms")
)

// Member is one participant connection as seen by the registry.
//
// Deliver must not block: it either queues the message for the member's
// transport and returns true, or reports the transport unwritable with false.
// It may be invoked while the registry lock is held.
type Member interface {
	UserID() string
	Deliver(msg *protocol.Message) bool
}

type Config struct {
	MaxRooms        int
	MaxUsersPerRoom int

	// RoomTimeout is how long an empty room survives before deletion. A join
	// arriving before the deadline cancels the deletion.
	RoomTimeout time.Duration
}

// Registry owns all rooms behind a single mutex. The capacity bound (2
// participants x a handful of rooms) makes one global serialization point
// cheaper than per-room locking.
type Registry struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	rooms    map[string]*room
	memberOf map[Member]*room
}

type room struct {
	id      string
	members []Member
	cleanup *time.Timer
}

func NewRegistry(cfg Config, log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		rooms:    make(map[string]*room),
		memberOf: make(map[Member]*room),
	}
}

// Join adds m to roomID, creating the room if needed, and returns the user
// identifiers already present (excluding m). Capacity is checked before any
// state changes, so a rejected join leaves the registry untouched.
//
// Existing occupants are notified with user-joined before m is added; the
// returned peer list therefore never includes the joiner, and occupants are
// never told about a join that failed.
func (r *Registry) Join(roomID string, m Member) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		if len(r.rooms) >= r.cfg.MaxRooms {
			r.metrics.Inc(metrics.TooManyRooms)
			return nil, ErrTooManyRooms
		}
		rm = &room{id: roomID}
		r.rooms[roomID] = rm
		r.metrics.Inc(metrics.RoomCreated)
		r.log.Info("room created", "room", roomID, "rooms", len(r.rooms))
	}

	if len(rm.members) >= r.cfg.MaxUsersPerRoom {
		r.metrics.Inc(metrics.RoomFull)
		return nil, ErrRoomFull
	}

	if rm.cleanup != nil {
		rm.cleanup.Stop()
		rm.cleanup = nil
	}

	joined := &protocol.Message{Type: protocol.KindUserJoined, UserID: m.UserID()}
	peers := make([]string, 0, len(rm.members))
	for _, other := range rm.members {
		other.Deliver(joined)
		peers = append(peers, other.UserID())
	}

	rm.members = append(rm.members, m)
	r.memberOf[m] = rm
	r.metrics.Inc(metrics.JoinAccepted)
	r.log.Info("user joined", "room", roomID, "user", m.UserID(), "occupants", len(rm.members))

	return peers, nil
}

// Leave removes m from its room, notifying the remaining occupants. It is
// idempotent: leaving twice, or without ever joining, is a no-op. When the
// room empties, deletion is scheduled after RoomTimeout.
func (r *Registry) Leave(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.memberOf[m]
	if !ok {
		return
	}
	delete(r.memberOf, m)

	for i, other := range rm.members {
		if other == m {
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			break
		}
	}

	left := &protocol.Message{Type: protocol.KindUserLeft, UserID: m.UserID()}
	for _, other := range rm.members {
		other.Deliver(left)
	}
	r.log.Info("user left", "room", rm.id, "user", m.UserID(), "occupants", len(rm.members))

	if len(rm.members) == 0 {
		r.scheduleCleanupLocked(rm)
	}
}

func (r *Registry) scheduleCleanupLocked(rm *room) {
	if rm.cleanup != nil {
		rm.cleanup.Stop()
	}
	roomID := rm.id
	rm.cleanup = time.AfterFunc(r.cfg.RoomTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// A join may have raced the timer; only reap rooms that are still empty.
		cur, ok := r.rooms[roomID]
		if !ok || len(cur.members) > 0 {
			return
		}
		delete(r.rooms, roomID)
		r.metrics.Inc(metrics.RoomDeleted)
		r.log.Info("empty room deleted", "room", roomID, "rooms", len(r.rooms))
	})
}

// Forward delivers msg unchanged to every other occupant of the sender's
// room. A sender without a room means the peer (or the whole room) is already
// gone; that is a race outcome, not an error, and the message is dropped.
func (r *Registry) Forward(from Member, msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.memberOf[from]
	if !ok {
		r.metrics.Inc(metrics.ForwardDropped)
		return
	}

	for _, other := range rm.members {
		if other == from {
			continue
		}
		if other.Deliver(msg) {
			r.metrics.Inc(metrics.ForwardDelivered)
		} else {
			r.metrics.Inc(metrics.ForwardDropped)
		}
	}
}

// Rooms reports the number of live rooms (including empty rooms awaiting
// cleanup), for health reporting and admission checks.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
