package metrics

import "sync"

// Event counter names. The gateway and bridges increment these; the
// /metrics endpoint exposes them.
const (
	RoomsCreated        = "rooms_created"
	RoomsDeleted        = "rooms_deleted"
	Joins               = "joins"
	Leaves              = "leaves"
	Disconnects         = "disconnects"
	SignalsRelayed      = "signals_relayed"
	SignalsDropped      = "signals_dropped"
	ChatPublished       = "chat_published"
	ChatPublishFailures = "chat_publish_failures"
	ChatDelivered       = "chat_delivered"
	BadMessages         = "bad_messages"
	RateLimited         = "rate_limited"
	SlowConsumersClosed = "slow_consumers_closed"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies all counters for exposition.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
