// Package provider defines the read side of runtime introspection and ships
// an implementation backed by the Go runtime. The aggregator only talks to the
// Provider interface so hosts can substitute their own sources.
package provider

import (
	"errors"

	"eidolon/model"
)

// ErrUnavailable reports that the runtime does not expose a facility.
var ErrUnavailable = errors.New("provider: facility unavailable")

// ThreadCounts are the scalar goroutine counters.
type ThreadCounts struct {
	Live         int64
	Daemon       int64
	Peak         int64
	TotalStarted int64
}

// ThreadInfo describes one live goroutine.
type ThreadInfo struct {
	ID         int64
	Name       string
	State      model.ThreadState
	WaitReason string
}

// Provider supplies point-in-time readings. Every method may fail
// independently; callers must treat each view as optional. Negative numbers
// mean "not tracked".
type Provider interface {
	MemoryTotals() (model.Usage, error)
	MemoryPools() ([]model.PoolUsage, error)
	ThreadCounts() (ThreadCounts, error)
	Threads() ([]ThreadInfo, error)
	ClassLoading() (model.ClassLoadingView, error)
	StringTable() (map[string]any, error)
}

// StringTableFunc returns vendor string-table attributes.
type StringTableFunc func() (map[string]any, error)

type withStringTable struct {
	Provider
	fn StringTableFunc
}

func (w withStringTable) StringTable() (map[string]any, error) {
	return w.fn()
}

// WithStringTable decorates p so StringTable is answered by fn. A nil fn
// returns p unchanged.
func WithStringTable(p Provider, fn StringTableFunc) Provider {
	if fn == nil {
		return p
	}
	return withStringTable{Provider: p, fn: fn}
}
