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
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Bytes moved by the operation (blob writes only)
	TotalBytes int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
	TotalBytes  int64   `json:"total_bytes,omitempty"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds  float64            `json:"uptime_seconds"`
	Ingest         *OperationSnapshot `json:"ingest,omitempty"`
	BlobPut        *OperationSnapshot `json:"blob_put,omitempty"`
	BlobDelete     *OperationSnapshot `json:"blob_delete,omitempty"`
	DBInsert       *OperationSnapshot `json:"db_insert,omitempty"`
	SourcesCreated map[string]int64   `json:"sources_created"`
}

// Operation names for the collector.
const (
	OpIngest     = "ingest"
	OpBlobPut    = "blob_put"
	OpBlobDelete = "blob_delete"
	OpDBInsert   = "db_insert"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe. A nil *Collector discards everything.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	created   map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		created:   make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation. A non-nil err counts as a failure.
func (c *Collector) RecordTiming(op string, duration time.Duration, err error) {
	c.RecordTransfer(op, duration, 0, err)
}

// RecordTransfer records timing plus the number of bytes an operation moved.
func (c *Collector) RecordTransfer(op string, duration time.Duration, bytes int64, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	m.TotalBytes += bytes
	if err != nil {
		m.Failures++
	}

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordSourceCreated counts one created source of the given type.
func (c *Collector) RecordSourceCreated(sourceType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created[sourceType]++
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
		TotalBytes:  m.TotalBytes,
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	created := make(map[string]int64, len(c.created))
	for k, v := range c.created {
		created[k] = v
	}

	return Snapshot{
		UptimeSeconds:  time.Since(c.startTime).Seconds(),
		Ingest:         snapshotOp(c.ops[OpIngest]),
		BlobPut:        snapshotOp(c.ops[OpBlobPut]),
		BlobDelete:     snapshotOp(c.ops[OpBlobDelete]),
		DBInsert:       snapshotOp(c.ops[OpDBInsert]),
		SourcesCreated: created,
	}
}
