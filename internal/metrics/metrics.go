package metrics

import "sync"

// Event counter names shared across the relay.
const (
	RoomCreated      = "room_created"
	RoomDeleted      = "room_deleted"
	RoomFull         = "room_full"
	TooManyRooms     = "too_many_rooms"
	ResourcePressure = "resource_pressure"
	JoinAccepted     = "join_accepted"
	ForwardDelivered = "forward_delivered"
	ForwardDropped   = "forward_dropped"
	MalformedMessage = "malformed_message"
	RateLimited      = "rate_limited"
	ProbeTimeout     = "probe_timeout"
	IdleTimeout      = "idle_timeout"
	ConnectionClosed = "connection_closed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Deployments scrape it through PrometheusHandler; keeping the registry
// in-process keeps the room registry and supervisor logic testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
