package ingest

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// GoRuntimeSource is the event source name used for in-process GC cycles.
const GoRuntimeSource = "go"

const defaultGCPollInterval = time.Second

// GCWatcher reports Go GC cycles as RuntimeGC notifications. A finalizer on a
// throwaway sentinel wakes the watcher after each collection; a slow poll
// catches cycles the sentinel missed.
// Ownership: the agent owns the watcher.
// Invariant: each cycle number is reported at most once.
type GCWatcher struct {
	handle       func(Notification)
	signal       chan struct{}
	quit         chan struct{}
	done         chan struct{}
	pollInterval time.Duration
	started      atomic.Bool
	stopped      atomic.Bool
	startOnce    sync.Once
	stopOnce     sync.Once
	readMemStats func(*runtime.MemStats)

	lastNumGC    uint32
	lastForced   uint32
	initialized  bool
	cyclesMissed atomic.Uint64
}

type gcSentinel struct {
	w *GCWatcher
	_ [16]byte
}

// NewGCWatcher returns a watcher that forwards each cycle to handle.
func NewGCWatcher(handle func(Notification)) *GCWatcher {
	return &GCWatcher{
		handle:       handle,
		signal:       make(chan struct{}, 1),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		pollInterval: defaultGCPollInterval,
		readMemStats: runtime.ReadMemStats,
	}
}

// Start begins watching. Cycles completed before Start are not reported.
func (w *GCWatcher) Start() {
	w.startOnce.Do(func() {
		if w.stopped.Load() {
			return
		}
		var ms runtime.MemStats
		w.readMemStats(&ms)
		w.collect(&ms)
		w.started.Store(true)
		w.arm()
		go w.run()
	})
}

// Stop ends the watch loop and waits for it to exit. Safe to call repeatedly
// and before Start.
func (w *GCWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		close(w.quit)
	})
	if w.started.Load() {
		<-w.done
	}
}

// Missed reports how many cycles fell out of the runtime's pause history
// before they could be read.
func (w *GCWatcher) Missed() uint64 {
	return w.cyclesMissed.Load()
}

func (w *GCWatcher) arm() {
	s := &gcSentinel{w: w}
	runtime.SetFinalizer(s, func(s *gcSentinel) {
		if s.w.stopped.Load() {
			return
		}
		select {
		case s.w.signal <- struct{}{}:
		default:
		}
		s.w.arm()
	})
}

func (w *GCWatcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var ms runtime.MemStats
	for {
		select {
		case <-w.quit:
			return
		case <-w.signal:
		case <-ticker.C:
		}
		w.readMemStats(&ms)
		w.collect(&ms)
	}
}

// collect emits one notification per cycle completed since the last call,
// oldest first. If more cycles completed than the pause ring holds, only the
// most recent ones are reported and the rest are counted as missed.
func (w *GCWatcher) collect(ms *runtime.MemStats) {
	if ms == nil {
		return
	}
	if !w.initialized {
		w.lastNumGC = ms.NumGC
		w.lastForced = ms.NumForcedGC
		w.initialized = true
		return
	}
	if ms.NumGC <= w.lastNumGC {
		return
	}
	delta := ms.NumGC - w.lastNumGC
	forced := ms.NumForcedGC - w.lastForced
	w.lastNumGC = ms.NumGC
	w.lastForced = ms.NumForcedGC

	ringLen := uint32(len(ms.PauseNs))
	if delta > ringLen {
		w.cyclesMissed.Add(uint64(delta - ringLen))
		delta = ringLen
	}
	first := ms.NumGC - delta + 1
	for cycle := first; cycle <= ms.NumGC; cycle++ {
		idx := (cycle + ringLen - 1) % ringLen
		// Forced cycles cannot be attributed exactly; assume the newest ones.
		isForced := ms.NumGC-cycle < forced
		w.handle(RuntimeGC{
			Cycle:  cycle,
			End:    time.Unix(0, int64(ms.PauseEnd[idx])).UTC(),
			Pause:  time.Duration(ms.PauseNs[idx]),
			Forced: isForced,
		})
	}
}
