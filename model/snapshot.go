// Package model holds the value types that make up a telemetry snapshot.
// Every value returned by the aggregator is freshly built; callers own what
// they receive and nothing in it aliases collector state.
package model

import "time"

// Unknown marks a counter the runtime cannot report. Zero always means zero.
const Unknown int64 = -1

// PoolKind classifies a memory pool.
type PoolKind string

const (
	PoolHeap    PoolKind = "HEAP"
	PoolNonHeap PoolKind = "NON_HEAP"
	PoolUnknown PoolKind = "UNKNOWN"
)

// Usage is a point-in-time reading of a memory region in bytes.
type Usage struct {
	Init      int64
	Used      int64
	Committed int64
	Max       int64
}

// UnknownUsage returns a Usage with every field set to Unknown.
func UnknownUsage() Usage {
	return Usage{Init: Unknown, Used: Unknown, Committed: Unknown, Max: Unknown}
}

// PoolUsage describes one memory pool. CollectionUsage is nil for pools that do
// not track post-collection state.
type PoolUsage struct {
	Name            string
	Kind            PoolKind
	Usage           Usage
	CollectionUsage *Usage
}

// MemoryView aggregates overall memory totals and the per-pool breakdown.
type MemoryView struct {
	Used      int64
	Committed int64
	Max       int64
	Pools     []PoolUsage
}

// ThreadView carries goroutine counters and the per-state breakdown. States
// always has a key for every value returned by AllThreadStates.
type ThreadView struct {
	Live         int64
	Daemon       int64
	Peak         int64
	TotalStarted int64
	States       map[ThreadState]int
}

// ClassLoadingView reports the cumulative module/class counters.
type ClassLoadingView struct {
	Loaded      int64
	TotalLoaded int64
	Unloaded    int64
}

// StringTableView is present in every snapshot. When Available is false the
// remaining fields are empty.
type StringTableView struct {
	Available   bool
	TableSize   *int64
	BucketCount *int64
	EntryCount  *int64
	TotalBytes  *int64
	Attributes  map[string]any
}

// LifecycleEvent is one discrete runtime occurrence such as a GC pause.
type LifecycleEvent struct {
	Source    string
	Action    string
	Cause     string
	StartTime time.Time
	Duration  time.Duration
}

// Snapshot is the full picture produced by one capture.
type Snapshot struct {
	CapturedAt  time.Time
	Memory      MemoryView
	Threads     ThreadView
	Classes     ClassLoadingView
	StringTable StringTableView
	Events      []LifecycleEvent
}

// Normalize maps any negative reading onto Unknown.
func Normalize(v int64) int64 {
	if v < 0 {
		return Unknown
	}
	return v
}

// NormalizeUsage applies Normalize to every field.
func NormalizeUsage(u Usage) Usage {
	return Usage{
		Init:      Normalize(u.Init),
		Used:      Normalize(u.Used),
		Committed: Normalize(u.Committed),
		Max:       Normalize(u.Max),
	}
}
