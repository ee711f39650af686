package observability

import "sync"

// Metrics provides basic in-memory counters for the coordination protocol.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

// Counter names recorded by the protocol components.
const (
	MetricLockAcquired    = "lock_acquired"
	MetricLockContended   = "lock_contended"
	MetricLockReleased    = "lock_released"
	MetricLockRenewed     = "lock_renewed"
	MetricCASConflict     = "cas_conflict"
	MetricRetry           = "retry"
	MetricAccessDenied    = "access_denied"
	MetricMessageAppended = "message_appended"
	MetricStatusChanged   = "status_changed"
)

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{counters: make(map[string]int64)}
}

// Inc increments the named counter.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}
