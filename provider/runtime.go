package provider

import (
	"math"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"runtime/pprof"
	"sync"
	"sync/atomic"

	"eidolon/model"
)

const (
	metricHeapLive          = "/gc/heap/live:bytes"
	metricGoroutinesCreated = "/sched/goroutines-created:goroutines"
	metricGOGC              = "/gc/gogc:percent"
)

// Pool names reported by the Go runtime provider.
const (
	PoolHeap             = "heap"
	PoolStack            = "stack"
	PoolMSpan            = "mspan"
	PoolMCache           = "mcache"
	PoolGCMetadata       = "gc-metadata"
	PoolProfilingBuckets = "profiling-buckets"
	PoolOther            = "other"
)

// RuntimePoolNames lists the pools Runtime reports, in order.
var RuntimePoolNames = []string{
	PoolHeap, PoolStack, PoolMSpan, PoolMCache, PoolGCMetadata, PoolProfilingBuckets, PoolOther,
}

// Runtime reads the hosting Go runtime.
type Runtime struct {
	peak atomic.Int64

	// Hooks for tests.
	readMemStats func(*runtime.MemStats)
	stackDump    func() []byte
	readMetrics  func([]metrics.Sample)
	buildInfo    func() (*debug.BuildInfo, bool)
	numGoroutine func() int
	threadCount  func() int

	threadsOnce sync.Once
	threads     *pprof.Profile
}

// NewRuntime returns a provider bound to the current process.
func NewRuntime() *Runtime {
	return &Runtime{
		readMemStats: runtime.ReadMemStats,
		stackDump:    fullStackDump,
		readMetrics:  metrics.Read,
		buildInfo:    debug.ReadBuildInfo,
		numGoroutine: runtime.NumGoroutine,
	}
}

// MemoryLimit returns the soft memory limit or Unknown when none is set.
func MemoryLimit() int64 {
	limit := debug.SetMemoryLimit(-1)
	if limit == math.MaxInt64 {
		return model.Unknown
	}
	return limit
}

func clampUint(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func (r *Runtime) memStats() *runtime.MemStats {
	var ms runtime.MemStats
	r.readMemStats(&ms)
	return &ms
}

// MemoryTotals reports heap usage: in-use bytes, bytes retained from the OS,
// and the soft memory limit.
func (r *Runtime) MemoryTotals() (model.Usage, error) {
	ms := r.memStats()
	return model.Usage{
		Init:      model.Unknown,
		Used:      clampUint(ms.HeapAlloc),
		Committed: clampUint(ms.HeapSys - ms.HeapReleased),
		Max:       MemoryLimit(),
	}, nil
}

// MemoryPools breaks runtime memory down by MemStats class.
func (r *Runtime) MemoryPools() ([]model.PoolUsage, error) {
	ms := r.memStats()
	nonHeap := func(name string, inuse, sys uint64) model.PoolUsage {
		return model.PoolUsage{
			Name: name,
			Kind: model.PoolNonHeap,
			Usage: model.Usage{
				Init:      model.Unknown,
				Used:      clampUint(inuse),
				Committed: clampUint(sys),
				Max:       model.Unknown,
			},
		}
	}

	limit := MemoryLimit()
	heap := model.PoolUsage{
		Name: PoolHeap,
		Kind: model.PoolHeap,
		Usage: model.Usage{
			Init:      model.Unknown,
			Used:      clampUint(ms.HeapAlloc),
			Committed: clampUint(ms.HeapSys - ms.HeapReleased),
			Max:       limit,
		},
	}
	if live, ok := r.uint64Metric(metricHeapLive); ok && ms.NumGC > 0 {
		heap.CollectionUsage = &model.Usage{
			Init:      model.Unknown,
			Used:      clampUint(live),
			Committed: clampUint(ms.HeapSys - ms.HeapReleased),
			Max:       limit,
		}
	}

	return []model.PoolUsage{
		heap,
		nonHeap(PoolStack, ms.StackInuse, ms.StackSys),
		nonHeap(PoolMSpan, ms.MSpanInuse, ms.MSpanSys),
		nonHeap(PoolMCache, ms.MCacheInuse, ms.MCacheSys),
		nonHeap(PoolGCMetadata, ms.GCSys, ms.GCSys),
		nonHeap(PoolProfilingBuckets, ms.BuckHashSys, ms.BuckHashSys),
		nonHeap(PoolOther, ms.OtherSys, ms.OtherSys),
	}, nil
}

// ThreadCounts maps goroutines onto the thread counters. Daemon carries the
// number of OS threads the runtime created.
func (r *Runtime) ThreadCounts() (ThreadCounts, error) {
	live := int64(r.numGoroutine())
	peak := r.observePeak(live)
	total := model.Unknown
	if v, ok := r.uint64Metric(metricGoroutinesCreated); ok {
		total = clampUint(v)
	}
	return ThreadCounts{
		Live:         live,
		Daemon:       int64(r.osThreads()),
		Peak:         peak,
		TotalStarted: total,
	}, nil
}

func (r *Runtime) observePeak(live int64) int64 {
	for {
		cur := r.peak.Load()
		if live <= cur {
			return cur
		}
		if r.peak.CompareAndSwap(cur, live) {
			return live
		}
	}
}

func (r *Runtime) osThreads() int {
	if r.threadCount != nil {
		return r.threadCount()
	}
	r.threadsOnce.Do(func() {
		r.threads = pprof.Lookup("threadcreate")
	})
	if r.threads == nil {
		return int(model.Unknown)
	}
	return r.threads.Count()
}

// Threads parses a full goroutine dump.
func (r *Runtime) Threads() ([]ThreadInfo, error) {
	dump := r.stackDump()
	if len(dump) == 0 {
		return nil, ErrUnavailable
	}
	return parseGoroutineDump(dump), nil
}

// ClassLoading counts the modules linked into the binary. Go never unloads
// code, so Unloaded is always zero.
func (r *Runtime) ClassLoading() (model.ClassLoadingView, error) {
	info, ok := r.buildInfo()
	if !ok || info == nil {
		return model.ClassLoadingView{}, ErrUnavailable
	}
	n := int64(1 + len(info.Deps))
	return model.ClassLoadingView{Loaded: n, TotalLoaded: n, Unloaded: 0}, nil
}

// StringTable is not exposed by the Go runtime.
func (r *Runtime) StringTable() (map[string]any, error) {
	return nil, ErrUnavailable
}

func (r *Runtime) uint64Metric(name string) (uint64, bool) {
	samples := []metrics.Sample{{Name: name}}
	r.readMetrics(samples)
	if samples[0].Value.Kind() != metrics.KindUint64 {
		return 0, false
	}
	return samples[0].Value.Uint64(), true
}

func fullStackDump() []byte {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		if len(buf) >= 64*1024*1024 {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}
