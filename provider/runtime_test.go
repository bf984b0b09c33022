package provider

import (
	"errors"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"testing"
	"time"

	"eidolon/model"
)

const sampleDump = `goroutine 1 [running]:
main.main()
	/src/app/main.go:12 +0x1d

goroutine 18 [chan receive, 4 minutes]:
net/http.(*Server).Serve(0xc000132000, {0x9d1a60, 0xc00012a000})
	/go/src/net/http/server.go:3056 +0x3a5
created by main.startHTTP in goroutine 1
	/src/app/http.go:40 +0x85

goroutine 19 gp=0xc000102a80 m=nil [IO wait]:
internal/poll.runtime_pollWait(0x7f, 0x72)
	/go/src/runtime/netpoll.go:351 +0x85
internal/poll.(*pollDesc).wait(0xc000130080?, 0x0?, 0x0)
	/go/src/internal/poll/fd_poll_runtime.go:84 +0x27
main.worker.func1()
	/src/app/worker.go:22 +0x33
created by main.worker in goroutine 1
	/src/app/worker.go:20 +0x66

goroutine 20 [sync.Mutex.Lock]:
sync.runtime_SemacquireMutex(0x0?, 0x0?, 0x0?)
	/go/src/runtime/sema.go:95 +0x25
main.locker()
	/src/app/lock.go:9 +0x1a
`

func TestParseGoroutineDump(t *testing.T) {
	got := parseGoroutineDump([]byte(sampleDump))
	if len(got) != 4 {
		t.Fatalf("expected 4 goroutines, got %d", len(got))
	}
	want := []ThreadInfo{
		{ID: 1, Name: "main.main", State: model.StateRunning, WaitReason: "running"},
		{ID: 18, Name: "net/http.(*Server).Serve", State: model.StateWaiting, WaitReason: "chan receive, 4 minutes"},
		{ID: 19, Name: "main.worker.func1", State: model.StateIOWait, WaitReason: "IO wait"},
		{ID: 20, Name: "main.locker", State: model.StateBlocked, WaitReason: "sync.Mutex.Lock"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("goroutine %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestParseGoroutineDumpSkipsMalformedHeaders(t *testing.T) {
	got := parseGoroutineDump([]byte("goroutine x [running]:\nmain.main()\n\ngoroutine 2 [sleep]:\ntime.Sleep(0x1)\n"))
	if len(got) != 1 || got[0].ID != 2 || got[0].State != model.StateTimedWaiting {
		t.Fatalf("unexpected parse result: %+v", got)
	}
}

func newTestRuntime() *Runtime {
	r := NewRuntime()
	r.readMemStats = func(ms *runtime.MemStats) {
		ms.HeapAlloc = 100
		ms.HeapSys = 400
		ms.HeapReleased = 100
		ms.StackInuse = 10
		ms.StackSys = 20
		ms.NumGC = 3
	}
	r.readMetrics = func(samples []metrics.Sample) {}
	r.numGoroutine = func() int { return 5 }
	r.threadCount = func() int { return 7 }
	r.stackDump = func() []byte { return []byte(sampleDump) }
	return r
}

func TestMemoryPoolsReportsRuntimeClasses(t *testing.T) {
	r := newTestRuntime()
	pools, err := r.MemoryPools()
	if err != nil {
		t.Fatalf("MemoryPools: %v", err)
	}
	if len(pools) != len(RuntimePoolNames) {
		t.Fatalf("expected %d pools, got %d", len(RuntimePoolNames), len(pools))
	}
	for i, name := range RuntimePoolNames {
		if pools[i].Name != name {
			t.Fatalf("pool %d: expected %s, got %s", i, name, pools[i].Name)
		}
	}
	heap := pools[0]
	if heap.Kind != model.PoolHeap || heap.Usage.Used != 100 || heap.Usage.Committed != 300 {
		t.Fatalf("unexpected heap pool: %+v", heap)
	}
	// Metric source returns KindBad in this test, so no collection usage.
	if heap.CollectionUsage != nil {
		t.Fatalf("expected nil collection usage when live-heap metric is unavailable")
	}
	if pools[1].Kind != model.PoolNonHeap || pools[1].Usage.Used != 10 || pools[1].Usage.Committed != 20 {
		t.Fatalf("unexpected stack pool: %+v", pools[1])
	}
}

func TestThreadCountsTracksPeakAndUnknownTotal(t *testing.T) {
	r := newTestRuntime()
	live := 5
	r.numGoroutine = func() int { return live }

	c, _ := r.ThreadCounts()
	if c.Live != 5 || c.Peak != 5 || c.Daemon != 7 {
		t.Fatalf("unexpected counts: %+v", c)
	}
	if c.TotalStarted != model.Unknown {
		t.Fatalf("expected TotalStarted to be Unknown without the metric, got %d", c.TotalStarted)
	}
	live = 9
	r.ThreadCounts()
	live = 2
	c, _ = r.ThreadCounts()
	if c.Live != 2 || c.Peak != 9 {
		t.Fatalf("expected live 2 peak 9, got %+v", c)
	}
}

func TestClassLoadingFromBuildInfo(t *testing.T) {
	r := newTestRuntime()
	r.buildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Deps: []*debug.Module{{Path: "a"}, {Path: "b"}}}, true
	}
	v, err := r.ClassLoading()
	if err != nil {
		t.Fatalf("ClassLoading: %v", err)
	}
	if v.Loaded != 3 || v.TotalLoaded != 3 || v.Unloaded != 0 {
		t.Fatalf("unexpected view: %+v", v)
	}

	r.buildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
	if _, err := r.ClassLoading(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestStringTableUnavailableUnlessDecorated(t *testing.T) {
	r := newTestRuntime()
	if _, err := r.StringTable(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	p := WithStringTable(r, func() (map[string]any, error) {
		return map[string]any{"TableSize": int64(65536)}, nil
	})
	attrs, err := p.StringTable()
	if err != nil || attrs["TableSize"] != int64(65536) {
		t.Fatalf("expected decorated attributes, got %v (%v)", attrs, err)
	}
	if WithStringTable(r, nil) != Provider(r) {
		t.Fatalf("nil func should return the provider unchanged")
	}
}

func TestLiveRuntimeReadsDoNotFail(t *testing.T) {
	r := NewRuntime()
	if _, err := r.MemoryTotals(); err != nil {
		t.Fatalf("MemoryTotals: %v", err)
	}
	threads, err := r.Threads()
	if err != nil || len(threads) == 0 {
		t.Fatalf("expected at least one goroutine, got %d (%v)", len(threads), err)
	}
	info := ReadRuntimeInfo(time.Now())
	if info.GoVersion == "" || info.NumCPU <= 0 {
		t.Fatalf("unexpected runtime info: %+v", info)
	}
}
