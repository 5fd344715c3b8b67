// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds    float64            `json:"uptime_seconds"`
	DBQuery          *OperationSnapshot `json:"db_query,omitempty"`
	ResolveWorkspace *OperationSnapshot `json:"resolve_workspace,omitempty"`
	AppendEvents     *OperationSnapshot `json:"append_events,omitempty"`
	IngestSession    *OperationSnapshot `json:"ingest_session,omitempty"`
	Broadcast        *OperationSnapshot `json:"broadcast,omitempty"`
}

// Operation names for the collector.
const (
	OpDBQuery          = "db_query"
	OpResolveWorkspace = "resolve_workspace"
	OpAppendEvents     = "append_events"
	OpIngestSession    = "ingest_session"
	OpBroadcast        = "broadcast"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}

	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// TimeOp starts a timer for an operation. The returned func records the
// elapsed time when called, typically via defer.
func (c *Collector) TimeOp(op string) func() {
	start := time.Now()
	return func() {
		c.RecordTiming(op, time.Since(start))
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:    time.Since(c.startTime).Seconds(),
		DBQuery:          snapshotOp(c.ops[OpDBQuery]),
		ResolveWorkspace: snapshotOp(c.ops[OpResolveWorkspace]),
		AppendEvents:     snapshotOp(c.ops[OpAppendEvents]),
		IngestSession:    snapshotOp(c.ops[OpIngestSession]),
		Broadcast:        snapshotOp(c.ops[OpBroadcast]),
	}
}
