// Package observability provides lifecycle operation statistics for
// performance monitoring and the stats endpoint.
package observability

import (
	"sort"
	"sync"
	"time"
)

// OpStats tracks per-operation counts, failures and latency.
type OpStats struct {
	mu     sync.RWMutex
	ops    map[string]*OperationStats
	window time.Duration
}

// OperationStats holds the accumulated statistics for one operation.
type OperationStats struct {
	Operation    string        `json:"operation"`
	Count        int64         `json:"count"`
	Failures     int64         `json:"failures"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	MaxLatency   time.Duration `json:"max_latency_ns"`
	LastSeen     time.Time     `json:"last_seen"`
}

// MeanLatency returns the average latency over all recorded calls.
func (s OperationStats) MeanLatency() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Count)
}

// NewOpStats creates an operation statistics tracker.
// window: duration after which idle entries are pruned.
func NewOpStats(window time.Duration) *OpStats {
	return &OpStats{
		ops:    make(map[string]*OperationStats),
		window: window,
	}
}

// Record adds one observation. O(1) and thread-safe; called on the hot path
// of every lifecycle operation.
func (o *OpStats) Record(op string, d time.Duration, failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats, exists := o.ops[op]
	if !exists {
		stats = &OperationStats{Operation: op}
		o.ops[op] = stats
	}

	stats.Count++
	if failed {
		stats.Failures++
	}
	stats.TotalLatency += d
	if d > stats.MaxLatency {
		stats.MaxLatency = d
	}
	stats.LastSeen = time.Now()
}

// Top returns the n most frequent operations, by count descending.
func (o *OpStats) Top(n int) []OperationStats {
	all := o.SnapshotAll()
	if n <= 0 {
		return []OperationStats{}
	}
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// SnapshotAll returns a copy of every operation's stats, sorted by count
// descending with operation name as tie-break.
func (o *OpStats) SnapshotAll() []OperationStats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := make([]OperationStats, 0, len(o.ops))
	for _, s := range o.ops {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Operation < stats[j].Operation
	})
	return stats
}

// Prune removes entries idle for longer than the window. Call periodically.
func (o *OpStats) Prune() {
	o.mu.Lock()
	defer o.mu.Unlock()

	threshold := time.Now().Add(-o.window)
	for op, stats := range o.ops {
		if stats.LastSeen.Before(threshold) {
			delete(o.ops, op)
		}
	}
}
