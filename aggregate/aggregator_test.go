package aggregate

import (
	"errors"
	"sync"
	"testing"
	"time"

	"eidolon/buffer"
	"eidolon/filter"
	"eidolon/model"
	"eidolon/provider"
)

type fakeProvider struct {
	totals      model.Usage
	totalsErr   error
	pools       []model.PoolUsage
	poolsPanic  bool
	counts      provider.ThreadCounts
	threads     []provider.ThreadInfo
	threadsErr  error
	classes     model.ClassLoadingView
	classesErr  error
	stringTable map[string]any
	stringErr   error
	stringCalls int
}

func (f *fakeProvider) MemoryTotals() (model.Usage, error) { return f.totals, f.totalsErr }
func (f *fakeProvider) MemoryPools() ([]model.PoolUsage, error) {
	if f.poolsPanic {
		panic("pool bean vanished")
	}
	return f.pools, nil
}
func (f *fakeProvider) ThreadCounts() (provider.ThreadCounts, error) { return f.counts, nil }
func (f *fakeProvider) Threads() ([]provider.ThreadInfo, error)      { return f.threads, f.threadsErr }
func (f *fakeProvider) ClassLoading() (model.ClassLoadingView, error) {
	return f.classes, f.classesErr
}
func (f *fakeProvider) StringTable() (map[string]any, error) {
	f.stringCalls++
	return f.stringTable, f.stringErr
}

func newFake() *fakeProvider {
	collected := model.Usage{Init: 0, Used: 10, Committed: 20, Max: -1}
	return &fakeProvider{
		totals: model.Usage{Used: 100, Committed: 200, Max: -1},
		pools: []model.PoolUsage{
			{Name: "heap", Kind: model.PoolHeap, Usage: model.Usage{Init: -7, Used: 100, Committed: 200, Max: -1}, CollectionUsage: &collected},
			{Name: "stack", Kind: model.PoolNonHeap, Usage: model.Usage{Used: 5, Committed: 6, Max: -1}},
			{Name: "mystery", Kind: "", Usage: model.Usage{Used: 1}},
		},
		counts: provider.ThreadCounts{Live: 4, Daemon: 2, Peak: 9, TotalStarted: -3},
		threads: []provider.ThreadInfo{
			{ID: 1, Name: "main.main", State: model.StateRunning},
			{ID: 2, Name: "main.worker", State: model.StateWaiting},
			{ID: 3, Name: "net/http.(*Server).Serve", State: model.StateIOWait},
			{ID: 4, Name: "runtime.gcBgMarkWorker", State: model.StateWaiting},
		},
		classes: model.ClassLoadingView{Loaded: 12, TotalLoaded: 12, Unloaded: 0},
	}
}

func TestCaptureEmptyFiltersIsTransparent(t *testing.T) {
	fp := newFake()
	a := New(Options{Provider: fp})
	snap := a.Capture()

	if len(snap.Memory.Pools) != 3 {
		t.Fatalf("expected all 3 pools, got %d", len(snap.Memory.Pools))
	}
	states := model.AllThreadStates()
	if len(snap.Threads.States) != len(states) {
		t.Fatalf("expected %d states, got %d", len(states), len(snap.Threads.States))
	}
	for _, s := range states {
		if _, ok := snap.Threads.States[s]; !ok {
			t.Fatalf("missing state %s", s)
		}
	}
	if snap.Threads.States[model.StateWaiting] != 2 || snap.Threads.States[model.StateRunning] != 1 || snap.Threads.States[model.StateIOWait] != 1 {
		t.Fatalf("unexpected state counts: %v", snap.Threads.States)
	}
	if snap.Threads.States[model.StateBlocked] != 0 {
		t.Fatalf("expected BLOCKED to default to 0")
	}
	if snap.Events == nil || len(snap.Events) != 0 {
		t.Fatalf("expected empty, non-nil events without a ring")
	}
}

func TestCapturePoolFilterIsIntersection(t *testing.T) {
	fp := newFake()
	a := New(Options{Provider: fp, Filters: filter.NewConfig([]string{"stack", "metaspace"}, nil, nil)})
	pools := a.Capture().Memory.Pools
	if len(pools) != 1 || pools[0].Name != "stack" {
		t.Fatalf("expected only stack, got %+v", pools)
	}
}

func TestCaptureThreadPrefixFilterDropsExcluded(t *testing.T) {
	fp := newFake()
	a := New(Options{Provider: fp, Filters: filter.NewConfig(nil, nil, []string{"main."})})
	states := a.Capture().Threads.States
	total := 0
	for _, n := range states {
		total += n
	}
	if total != 2 {
		t.Fatalf("expected only the 2 main.* goroutines counted, got %d (%v)", total, states)
	}
	if states[model.StateIOWait] != 0 {
		t.Fatalf("excluded goroutine must not contribute to IO_WAIT")
	}
	if len(states) != len(model.AllThreadStates()) {
		t.Fatalf("expected every state key to remain present")
	}
}

func TestCaptureNormalizesNegatives(t *testing.T) {
	fp := newFake()
	fp.totals = model.Usage{Used: -2, Committed: 0, Max: -99}
	snap := New(Options{Provider: fp}).Capture()
	if snap.Memory.Used != model.Unknown || snap.Memory.Max != model.Unknown {
		t.Fatalf("expected negatives normalized to -1, got %+v", snap.Memory)
	}
	if snap.Memory.Committed != 0 {
		t.Fatalf("expected a real zero to stay 0, got %d", snap.Memory.Committed)
	}
	heap := snap.Memory.Pools[0]
	if heap.Usage.Init != model.Unknown {
		t.Fatalf("expected pool init -1, got %d", heap.Usage.Init)
	}
	if heap.CollectionUsage == nil || heap.CollectionUsage.Init != 0 {
		t.Fatalf("expected collection usage preserved, got %+v", heap.CollectionUsage)
	}
	if snap.Memory.Pools[1].CollectionUsage != nil {
		t.Fatalf("expected absent collection usage to stay absent")
	}
	if snap.Memory.Pools[2].Kind != model.PoolUnknown {
		t.Fatalf("expected empty kind mapped to UNKNOWN, got %q", snap.Memory.Pools[2].Kind)
	}
	if snap.Threads.TotalStarted != model.Unknown {
		t.Fatalf("expected total started -1, got %d", snap.Threads.TotalStarted)
	}
}

func TestCapturePartialOnFailures(t *testing.T) {
	fp := newFake()
	fp.totalsErr = errors.New("mxbean gone")
	fp.poolsPanic = true
	fp.threadsErr = provider.ErrUnavailable
	fp.classesErr = provider.ErrUnavailable

	var mu sync.Mutex
	failed := map[string]bool{}
	a := New(Options{Provider: fp, OnViewError: func(view string, err error) {
		mu.Lock()
		failed[view] = true
		mu.Unlock()
	}})
	snap := a.Capture()

	if snap.Memory.Used != model.Unknown || len(snap.Memory.Pools) != 0 || snap.Memory.Pools == nil {
		t.Fatalf("expected degraded memory view, got %+v", snap.Memory)
	}
	if snap.Threads.Live != 4 {
		t.Fatalf("expected thread counts still populated, got %d", snap.Threads.Live)
	}
	if len(snap.Threads.States) != len(model.AllThreadStates()) {
		t.Fatalf("expected complete zeroed state map on failure")
	}
	if snap.Classes.Loaded != model.Unknown {
		t.Fatalf("expected classes -1, got %d", snap.Classes.Loaded)
	}
	for _, v := range []string{ViewMemory, ViewPools, ViewThreadState, ViewClasses} {
		if !failed[v] {
			t.Fatalf("expected failure reported for %s", v)
		}
	}
	if _, fails := a.Counters(); fails != 4 {
		t.Fatalf("expected 4 view failures, got %d", fails)
	}
}

func TestStringTableDisabledNeverReads(t *testing.T) {
	fp := newFake()
	fp.stringTable = map[string]any{"TableSize": int64(1024)}
	snap := New(Options{Provider: fp, CollectStringTable: false}).Capture()
	st := snap.StringTable
	if st.Available || st.TableSize != nil || st.BucketCount != nil || st.EntryCount != nil || st.TotalBytes != nil || len(st.Attributes) != 0 {
		t.Fatalf("expected unavailable empty string table, got %+v", st)
	}
	if fp.stringCalls != 0 {
		t.Fatalf("expected provider not to be consulted, got %d calls", fp.stringCalls)
	}
}

func TestStringTableEnabledMapsAttributes(t *testing.T) {
	fp := newFake()
	fp.stringTable = map[string]any{
		"Size":        int64(65536),
		"BucketCount": 65536,
		"EntryCount":  float64(1200),
		"TotalMemory": int64(-1),
		"RehashCount": int64(3),
		"Vendor":      "hotspot",
	}
	st := New(Options{Provider: fp, CollectStringTable: true}).StringTable()
	if !st.Available {
		t.Fatalf("expected available string table")
	}
	if st.TableSize == nil || *st.TableSize != 65536 {
		t.Fatalf("unexpected table size %v", st.TableSize)
	}
	if st.BucketCount == nil || *st.BucketCount != 65536 || st.EntryCount == nil || *st.EntryCount != 1200 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if st.TotalBytes == nil || *st.TotalBytes != model.Unknown {
		t.Fatalf("expected total bytes normalized to -1")
	}
	if len(st.Attributes) != 2 || st.Attributes["RehashCount"] != int64(3) || st.Attributes["Vendor"] != "hotspot" {
		t.Fatalf("expected only uncovered attributes, got %v", st.Attributes)
	}
}

func TestStringTableEnabledButUnavailable(t *testing.T) {
	fp := newFake()
	fp.stringErr = provider.ErrUnavailable
	st := New(Options{Provider: fp, CollectStringTable: true}).StringTable()
	if st.Available || st.TableSize != nil {
		t.Fatalf("expected available=false, got %+v", st)
	}
}

func TestCaptureCopiesEventsOldestFirst(t *testing.T) {
	ring := buffer.NewEventRing(2)
	for _, src := range []string{"a", "b", "c"} {
		ring.Push(model.LifecycleEvent{Source: src})
	}
	now := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)
	a := New(Options{Provider: newFake(), Ring: ring, Now: func() time.Time { return now }})
	snap := a.Capture()
	if !snap.CapturedAt.Equal(now) {
		t.Fatalf("expected captured-at %s, got %s", now, snap.CapturedAt)
	}
	if len(snap.Events) != 2 || snap.Events[0].Source != "b" || snap.Events[1].Source != "c" {
		t.Fatalf("unexpected events: %+v", snap.Events)
	}
	snap.Events[0].Source = "mutated"
	if ring.Snapshot()[0].Source != "b" {
		t.Fatalf("snapshot events must not alias the ring")
	}
}

func TestNilProviderStillCaptures(t *testing.T) {
	snap := New(Options{}).Capture()
	if snap.Memory.Used != model.Unknown || snap.Threads.Live != model.Unknown {
		t.Fatalf("expected sentinels with nil provider, got %+v", snap)
	}
	if len(snap.Threads.States) != len(model.AllThreadStates()) {
		t.Fatalf("expected complete state map")
	}
}

func TestCheckFiltersSuggests(t *testing.T) {
	a := New(Options{Provider: newFake(), Filters: filter.NewConfig([]string{"stak", "heap", "zzzzzzzzzz"}, nil, nil)})
	warnings := a.CheckFilters()
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
	if warnings[0] != `memory pool filter "stak" matches no pool (did you mean "stack"?)` {
		t.Fatalf("unexpected warning: %s", warnings[0])
	}
	if warnings[1] != `memory pool filter "zzzzzzzzzz" matches no pool` {
		t.Fatalf("unexpected warning: %s", warnings[1])
	}
}

func TestCaptureCountsUnmappedStates(t *testing.T) {
	fp := newFake()
	fp.threads = append(fp.threads, provider.ThreadInfo{ID: 5, Name: "main.odd", State: model.ThreadState("PARKED")})
	a := New(Options{Provider: fp})
	states := a.Capture().Threads.States
	if states[model.StateWaiting] != 3 {
		t.Fatalf("expected unmapped goroutine counted as WAITING, got %d", states[model.StateWaiting])
	}
	if _, ok := states[model.ThreadState("PARKED")]; ok {
		t.Fatalf("expected no key for an undefined state")
	}
	if got := a.UnmappedStates(); got != 1 {
		t.Fatalf("expected 1 unmapped state, got %d", got)
	}
}

func TestStringTableAttributesAreDeepCopied(t *testing.T) {
	fp := newFake()
	nested := map[string]any{"buckets": []any{int64(1), int64(2)}}
	names := []string{"a", "b"}
	fp.stringTable = map[string]any{"Histogram": nested, "Names": names}
	st := New(Options{Provider: fp, CollectStringTable: true}).StringTable()

	nested["buckets"].([]any)[0] = int64(99)
	nested["extra"] = true
	names[0] = "z"

	got := st.Attributes["Histogram"].(map[string]any)
	if _, ok := got["extra"]; ok {
		t.Fatalf("expected snapshot map to be independent of the provider's")
	}
	if got["buckets"].([]any)[0] != int64(1) {
		t.Fatalf("expected nested slice copied, got %v", got["buckets"])
	}
	if st.Attributes["Names"].([]string)[0] != "a" {
		t.Fatalf("expected string slice copied, got %v", st.Attributes["Names"])
	}
}
