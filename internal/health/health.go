// Package health decides when the normal background worker path can no
// longer be trusted and the inline fallback should take over.
package health

import (
	"context"
	"time"
)

// Connection is the slice of the bus client the monitor needs. *nats.Conn
// satisfies it.
type Connection interface {
	IsConnected() bool
}

// QueueStats exposes backlog information from the job store.
type QueueStats interface {
	OldestQueuedAge(ctx context.Context) (time.Duration, bool, error)
	QueueDepth(ctx context.Context) (int, error)
}

// Status is one health probe result.
type Status struct {
	Healthy        bool  `json:"is_healthy"`
	QueueDepth     int   `json:"queue_depth"`
	OldestJobAgeMs int64 `json:"oldest_job_age_ms"`
}

// Monitor probes worker liveness. It is a read-only observer; it never
// mutates jobs.
type Monitor struct {
	conn            Connection
	queue           QueueStats
	fallbackEnabled bool
	staleThreshold  time.Duration
}

func NewMonitor(conn Connection, queue QueueStats, fallbackEnabled bool, staleThreshold time.Duration) *Monitor {
	if staleThreshold <= 0 {
		staleThreshold = 8 * time.Second
	}
	return &Monitor{
		conn:            conn,
		queue:           queue,
		fallbackEnabled: fallbackEnabled,
		staleThreshold:  staleThreshold,
	}
}

// Check reports whether the background path is reachable and timely. An
// unreachable bus, an unreadable store, or a queued job older than the
// staleness threshold all mark it unhealthy.
func (m *Monitor) Check(ctx context.Context) Status {
	st := Status{Healthy: true}

	if m.conn == nil || !m.conn.IsConnected() {
		st.Healthy = false
	}

	depth, err := m.queue.QueueDepth(ctx)
	if err != nil {
		st.Healthy = false
		st.OldestJobAgeMs = -1
		return st
	}
	st.QueueDepth = depth

	age, known, err := m.queue.OldestQueuedAge(ctx)
	if err != nil {
		st.Healthy = false
		st.OldestJobAgeMs = -1
		return st
	}
	if known {
		st.OldestJobAgeMs = age.Milliseconds()
		if age > m.staleThreshold {
			st.Healthy = false
		}
	}
	return st
}

// ShouldUseInlineFallback returns true when the fallback feature is on AND
// the job's age is unknown (queue unreachable) or past the staleness
// threshold.
func (m *Monitor) ShouldUseInlineFallback(jobAge time.Duration, ageKnown bool) bool {
	if !m.fallbackEnabled {
		return false
	}
	if !ageKnown {
		return true
	}
	return jobAge > m.staleThreshold
}
