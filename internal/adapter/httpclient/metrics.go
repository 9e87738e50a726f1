package httpclient

import (
	"sync/atomic"
	"time"
)

// maxStatus bounds the status histogram: codes 0..599 are counted, anything
// else is ignored. Code 0 means no HTTP response was received.
const maxStatus = 600

// NetworkMetrics aggregates per-attempt network counters. All fields are
// atomics, so one NetworkMetrics may be shared by several clients. Reads are
// not transactionally consistent across fields.
type NetworkMetrics struct {
	requests      atomic.Uint64
	retries       atomic.Uint64
	sleepNanos    atomic.Int64
	networkNanos  atomic.Int64
	bytesReceived atomic.Uint64
	statuses      [maxStatus]atomic.Uint64
}

// NewNetworkMetrics returns zeroed metrics.
func NewNetworkMetrics() *NetworkMetrics {
	return &NetworkMetrics{}
}

// MetricsSnapshot is a point-in-time copy of NetworkMetrics.
type MetricsSnapshot struct {
	Requests      uint64
	Retries       uint64
	Sleep         time.Duration
	Network       time.Duration
	BytesReceived uint64
	// Statuses holds only the codes that were observed at least once.
	Statuses map[int]uint64
}

// observe records one finished attempt, successful or not.
func (m *NetworkMetrics) observe(status int, elapsed time.Duration, bytes int) {
	m.requests.Add(1)
	m.networkNanos.Add(int64(elapsed))
	if status >= 0 && status < maxStatus {
		m.statuses[status].Add(1)
	}
	if bytes > 0 {
		m.bytesReceived.Add(uint64(bytes))
	}
}

func (m *NetworkMetrics) observeRetry(sleep time.Duration) {
	m.retries.Add(1)
	m.sleepNanos.Add(int64(sleep))
}

// Status returns how many attempts ended with the given status code.
func (m *NetworkMetrics) Status(code int) uint64 {
	if code < 0 || code >= maxStatus {
		return 0
	}
	return m.statuses[code].Load()
}

// Snapshot copies the current counter values.
func (m *NetworkMetrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Requests:      m.requests.Load(),
		Retries:       m.retries.Load(),
		Sleep:         time.Duration(m.sleepNanos.Load()),
		Network:       time.Duration(m.networkNanos.Load()),
		BytesReceived: m.bytesReceived.Load(),
		Statuses:      make(map[int]uint64),
	}
	for code := range m.statuses {
		if n := m.statuses[code].Load(); n > 0 {
			s.Statuses[code] = n
		}
	}
	return s
}
