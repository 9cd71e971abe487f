package router

import "sync/atomic"

// WorkTracker accumulates per-query statistics (§6 work_stats.json) under
// plain atomics rather than a mutex: every field is an independent counter
// with no cross-field invariant to protect, so lock-free addition is both
// simpler and correct under concurrent record_query calls (testable
// property 11).
type WorkTracker struct {
	queriesProcessed int64
	local            int64
	remote           int64
	totalLatencyNs   int64
}

// NewWorkTracker returns a zeroed tracker.
func NewWorkTracker() *WorkTracker {
	return &WorkTracker{}
}

// RecordQuery records one completed query's latency and whether it was
// served locally.
func (w *WorkTracker) RecordQuery(latencyNs int64, usedLocal bool) {
	atomic.AddInt64(&w.queriesProcessed, 1)
	if usedLocal {
		atomic.AddInt64(&w.local, 1)
	} else {
		atomic.AddInt64(&w.remote, 1)
	}
	atomic.AddInt64(&w.totalLatencyNs, latencyNs)
}

// Snapshot is a consistent-enough read of the tracker's counters for
// reporting; individual fields may be read at slightly different instants
// under concurrent writers, which is acceptable for a stats display.
type Snapshot struct {
	QueriesProcessed int64
	Local            int64
	Remote           int64
	TotalLatencyNs   int64
}

// Snapshot reads the current counter values.
func (w *WorkTracker) Snapshot() Snapshot {
	return Snapshot{
		QueriesProcessed: atomic.LoadInt64(&w.queriesProcessed),
		Local:            atomic.LoadInt64(&w.local),
		Remote:           atomic.LoadInt64(&w.remote),
		TotalLatencyNs:   atomic.LoadInt64(&w.totalLatencyNs),
	}
}
