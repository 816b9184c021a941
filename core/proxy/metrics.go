package proxy

import (
	"sync"
	"time"
)

// Metrics defines the interface for collecting proxy dispatch metrics
type Metrics interface {
	// Call flow
	RecordDispatch(action Action)
	RecordCompleted(action Action, duration time.Duration)
	RecordSoftFailure(action Action, duration time.Duration)
	RecordFault(action Action, duration time.Duration)

	// Get current snapshot
	GetSnapshot() MetricsSnapshot
}

// MetricsSnapshot represents a point-in-time view of proxy metrics
type MetricsSnapshot struct {
	Dispatched   int64 `json:"dispatched"`
	Completed    int64 `json:"completed"`
	SoftFailures int64 `json:"soft_failures"`
	Faults       int64 `json:"faults"`
	InFlight     int64 `json:"in_flight"`

	// Performance
	TotalDuration   time.Duration `json:"total_duration_ms"`
	AverageDuration time.Duration `json:"average_duration_ms"`

	// Timing
	CollectedAt time.Time `json:"collected_at"`
}

// ================================================================================
// NoOpMetrics - Default no-op implementation
// ================================================================================

type NoOpMetrics struct{}

func NewNoOpMetrics() Metrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordDispatch(action Action)                            {}
func (n *NoOpMetrics) RecordCompleted(action Action, duration time.Duration)   {}
func (n *NoOpMetrics) RecordSoftFailure(action Action, duration time.Duration) {}
func (n *NoOpMetrics) RecordFault(action Action, duration time.Duration)       {}
func (n *NoOpMetrics) GetSnapshot() MetricsSnapshot                            { return MetricsSnapshot{} }

// ================================================================================
// InMemoryMetrics - Tracks metrics in memory
// ================================================================================

type InMemoryMetrics struct {
	mu           sync.RWMutex
	dispatched   int64
	completed    int64
	softFailures int64
	faults       int64
	totalNs      int64
}

func NewInMemoryMetrics() Metrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) RecordDispatch(action Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched++
}

func (m *InMemoryMetrics) RecordCompleted(action Action, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	m.totalNs += duration.Nanoseconds()
}

func (m *InMemoryMetrics) RecordSoftFailure(action Action, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.softFailures++
	m.totalNs += duration.Nanoseconds()
}

func (m *InMemoryMetrics) RecordFault(action Action, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults++
	m.totalNs += duration.Nanoseconds()
}

func (m *InMemoryMetrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	terminal := m.completed + m.softFailures + m.faults

	snapshot := MetricsSnapshot{
		Dispatched:    m.dispatched,
		Completed:     m.completed,
		SoftFailures:  m.softFailures,
		Faults:        m.faults,
		InFlight:      m.dispatched - terminal,
		TotalDuration: time.Duration(m.totalNs),
		CollectedAt:   time.Now(),
	}
	if terminal > 0 {
		snapshot.AverageDuration = time.Duration(m.totalNs / terminal)
	}
	return snapshot
}
