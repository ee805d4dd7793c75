package metrics

import "sync"

// Relay event names.
const (
	ConnectionOpened = "connection_opened"
	ConnectionClosed = "connection_closed"

	RoomJoined     = "room_joined"
	RoomLeft       = "room_left"
	RoomFull       = "room_full"
	PeerLeftSent   = "peer_left_sent"
	MessageRelayed = "message_relayed"
	RoutingError   = "routing_error"
	BadMessage     = "bad_message"

	DropReasonRateLimited = "rate_limited"

	ChatPersisted     = "chat_persisted"
	ChatPersistFailed = "chat_persist_failed"
	ChatPersistDrop   = "chat_persist_dropped"
)

// Metrics is a concurrency-safe counter registry. The zero value is ready to
// use.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
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

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
