// Package aggregate builds telemetry snapshots from a runtime provider and
// the lifecycle event ring.
//
// Each view is read independently. A provider error or panic while reading one
// view degrades only that view (sentinel counters, an empty pool list, or an
// unavailable string table) and the remaining views are still populated.
package aggregate

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"eidolon/buffer"
	"eidolon/filter"
	"eidolon/model"
	"eidolon/provider"
)

// View names passed to the failure hook.
const (
	ViewMemory      = "memory"
	ViewPools       = "pools"
	ViewThreads     = "threads"
	ViewThreadState = "thread-states"
	ViewClasses     = "classes"
	ViewStringTable = "string-table"
	ViewEvents      = "events"
)

// Options configures an Aggregator.
type Options struct {
	Provider           provider.Provider
	Ring               *buffer.EventRing
	Filters            filter.Config
	CollectStringTable bool
	Now                func() time.Time
	// OnViewError observes degraded views. It must not block.
	OnViewError func(view string, err error)
}

// Aggregator captures snapshots. It holds no mutable state beyond counters, so
// Capture may be called from any number of goroutines at once.
type Aggregator struct {
	provider           provider.Provider
	ring               *buffer.EventRing
	filters            filter.Config
	collectStringTable bool
	now                func() time.Time
	onViewError        func(view string, err error)

	captures       atomic.Uint64
	viewFailures   atomic.Uint64
	unmappedStates atomic.Uint64
}

// New builds an aggregator. A nil Provider behaves as if every facility were
// unavailable; a nil Ring yields no events.
func New(opts Options) *Aggregator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		provider:           opts.Provider,
		ring:               opts.Ring,
		filters:            opts.Filters,
		collectStringTable: opts.CollectStringTable,
		now:                now,
		onViewError:        opts.OnViewError,
	}
}

// Purpose: Produce one complete snapshot.
// Key aspects: Never fails; every view is guarded separately so a broken
// source yields partial results rather than none.
// Upstream: broadcast.Scheduler tick, HTTP/WebSocket/telnet on-demand reads.
// Downstream: provider.Provider, buffer.EventRing.Snapshot.
func (a *Aggregator) Capture() model.Snapshot {
	a.captures.Add(1)
	return model.Snapshot{
		CapturedAt:  a.now().UTC(),
		Memory:      a.Memory(),
		Threads:     a.Threads(),
		Classes:     a.Classes(),
		StringTable: a.StringTable(),
		Events:      a.Events(),
	}
}

// Memory returns totals and the filtered pool list.
func (a *Aggregator) Memory() model.MemoryView {
	view := model.MemoryView{
		Used:      model.Unknown,
		Committed: model.Unknown,
		Max:       model.Unknown,
		Pools:     []model.PoolUsage{},
	}
	if totals, ok := guard(a, ViewMemory, a.readTotals); ok {
		view.Used = model.Normalize(totals.Used)
		view.Committed = model.Normalize(totals.Committed)
		view.Max = model.Normalize(totals.Max)
	}
	if pools, ok := guard(a, ViewPools, a.readPools); ok {
		view.Pools = pools
	}
	return view
}

func (a *Aggregator) readTotals() (model.Usage, error) {
	if a.provider == nil {
		return model.Usage{}, provider.ErrUnavailable
	}
	return a.provider.MemoryTotals()
}

func (a *Aggregator) readPools() ([]model.PoolUsage, error) {
	if a.provider == nil {
		return nil, provider.ErrUnavailable
	}
	raw, err := a.provider.MemoryPools()
	if err != nil {
		return nil, err
	}
	out := make([]model.PoolUsage, 0, len(raw))
	for _, p := range raw {
		if !a.filters.Pools.Allows(p.Name) {
			continue
		}
		kind := p.Kind
		if kind != model.PoolHeap && kind != model.PoolNonHeap {
			kind = model.PoolUnknown
		}
		pool := model.PoolUsage{
			Name:  p.Name,
			Kind:  kind,
			Usage: model.NormalizeUsage(p.Usage),
		}
		if p.CollectionUsage != nil {
			cu := model.NormalizeUsage(*p.CollectionUsage)
			pool.CollectionUsage = &cu
		}
		out = append(out, pool)
	}
	return out, nil
}

// Threads returns counters and the per-state breakdown. The state map always
// holds every defined state; goroutines excluded by the prefix filter are not
// counted in any state.
func (a *Aggregator) Threads() model.ThreadView {
	view := model.ThreadView{
		Live:         model.Unknown,
		Daemon:       model.Unknown,
		Peak:         model.Unknown,
		TotalStarted: model.Unknown,
	}
	if counts, ok := guard(a, ViewThreads, a.readThreadCounts); ok {
		view.Live = model.Normalize(counts.Live)
		view.Daemon = model.Normalize(counts.Daemon)
		view.Peak = model.Normalize(counts.Peak)
		view.TotalStarted = model.Normalize(counts.TotalStarted)
	}
	if states, ok := guard(a, ViewThreadState, a.readStateCounts); ok {
		view.States = states
	} else {
		view.States = model.NewStateCounts()
	}
	return view
}

func (a *Aggregator) readThreadCounts() (provider.ThreadCounts, error) {
	if a.provider == nil {
		return provider.ThreadCounts{}, provider.ErrUnavailable
	}
	return a.provider.ThreadCounts()
}

func (a *Aggregator) readStateCounts() (map[model.ThreadState]int, error) {
	if a.provider == nil {
		return nil, provider.ErrUnavailable
	}
	threads, err := a.provider.Threads()
	if err != nil {
		return nil, err
	}
	counts := model.NewStateCounts()
	for _, th := range threads {
		if !a.filters.ThreadPrefixes.Allows(th.Name) {
			continue
		}
		if _, known := counts[th.State]; !known {
			// Unmapped states fall into WAITING rather than adding new keys.
			counts[model.StateWaiting]++
			a.unmappedStates.Add(1)
			continue
		}
		counts[th.State]++
	}
	return counts, nil
}

// Classes returns the class-loading counters.
func (a *Aggregator) Classes() model.ClassLoadingView {
	view := model.ClassLoadingView{Loaded: model.Unknown, TotalLoaded: model.Unknown, Unloaded: model.Unknown}
	read := func() (model.ClassLoadingView, error) {
		if a.provider == nil {
			return model.ClassLoadingView{}, provider.ErrUnavailable
		}
		return a.provider.ClassLoading()
	}
	if v, ok := guard(a, ViewClasses, read); ok {
		view.Loaded = model.Normalize(v.Loaded)
		view.TotalLoaded = model.Normalize(v.TotalLoaded)
		view.Unloaded = model.Normalize(v.Unloaded)
	}
	return view
}

// StringTable reads the vendor string table when collection is enabled.
func (a *Aggregator) StringTable() model.StringTableView {
	if !a.collectStringTable || a.provider == nil {
		return model.StringTableView{}
	}
	attrs, ok := guard(a, ViewStringTable, a.provider.StringTable)
	if !ok || attrs == nil {
		return model.StringTableView{}
	}
	return mapStringTable(attrs)
}

// Events returns the ordered event copy.
func (a *Aggregator) Events() []model.LifecycleEvent {
	if a.ring == nil {
		return []model.LifecycleEvent{}
	}
	return a.ring.Snapshot()
}

// Counters reports how many captures ran and how many views degraded.
func (a *Aggregator) Counters() (captures, viewFailures uint64) {
	return a.captures.Load(), a.viewFailures.Load()
}

// UnmappedStates counts goroutines whose state was outside the defined set and
// was reported as WAITING.
func (a *Aggregator) UnmappedStates() uint64 {
	return a.unmappedStates.Load()
}

// CheckFilters returns warnings for pool allow-list entries that name no pool
// the provider reports, with a closest-match hint when one is plausible.
func (a *Aggregator) CheckFilters() []string {
	if a.filters.Pools.Empty() || a.provider == nil {
		return nil
	}
	pools, err := a.provider.MemoryPools()
	if err != nil {
		return nil
	}
	known := make([]string, 0, len(pools))
	for _, p := range pools {
		known = append(known, p.Name)
	}
	sort.Strings(known)
	var warnings []string
	for _, name := range a.filters.Pools.Unmatched(known) {
		msg := fmt.Sprintf("memory pool filter %q matches no pool", name)
		if hint := filter.Suggest(name, known); hint != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", hint)
		}
		warnings = append(warnings, msg)
	}
	return warnings
}

// guard runs read, converting errors and panics into a failed view.
func guard[T any](a *Aggregator, view string, read func() (T, error)) (v T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, ok = zero, false
			a.viewFailed(view, fmt.Errorf("aggregate: %s panicked: %v", view, r))
		}
	}()
	v, err := read()
	if err != nil {
		a.viewFailed(view, err)
		var zero T
		return zero, false
	}
	return v, true
}

func (a *Aggregator) viewFailed(view string, err error) {
	a.viewFailures.Add(1)
	if a.onViewError != nil {
		a.onViewError(view, err)
	}
}
