// Package stats tracks agent self-counters (per-transport connections,
// delivery drops) and exposes them, together with the core components'
// counters, to Prometheus and the periodic console summary.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker holds counters keyed by transport name ("websocket", "telnet",
// "mqtt", "dashboard").
type Tracker struct {
	// sync.Map + atomic so per-connection updates don't contend on a mutex
	opened  sync.Map // transport -> *atomic.Uint64
	closed  sync.Map // transport -> *atomic.Uint64
	dropped sync.Map // transport -> *atomic.Uint64
	start   atomic.Int64
}

// NewTracker creates a tracker whose uptime starts now.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// ConnectionOpened records a new subscriber on transport.
func (t *Tracker) ConnectionOpened(transport string) {
	incrementCounter(&t.opened, transport)
}

// ConnectionClosed records a subscriber leaving transport.
func (t *Tracker) ConnectionClosed(transport string) {
	incrementCounter(&t.closed, transport)
}

// PayloadDropped records a payload a transport could not queue.
func (t *Tracker) PayloadDropped(transport string) {
	incrementCounter(&t.dropped, transport)
}

// Active returns open-minus-closed per transport.
func (t *Tracker) Active() map[string]int64 {
	opened := loadCounts(&t.opened)
	closed := loadCounts(&t.closed)
	out := make(map[string]int64, len(opened))
	for k, v := range opened {
		out[k] = int64(v) - int64(closed[k])
	}
	return out
}

// Opened returns cumulative connection counts per transport.
func (t *Tracker) Opened() map[string]uint64 {
	return loadCounts(&t.opened)
}

// Dropped returns dropped payload counts per transport.
func (t *Tracker) Dropped() map[string]uint64 {
	return loadCounts(&t.dropped)
}

// GetUptime returns time since the tracker was created or reset.
func (t *Tracker) GetUptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

// Reset clears every counter.
func (t *Tracker) Reset() {
	for _, m := range []*sync.Map{&t.opened, &t.closed, &t.dropped} {
		m.Range(func(key, _ any) bool {
			m.Delete(key)
			return true
		})
	}
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines renders the counters for console output.
func (t *Tracker) SnapshotLines() []string {
	return []string{
		formatCounts("Active", t.Active()),
		formatCounts("Dropped", t.Dropped()),
	}
}

func formatCounts[V int64 | uint64](label string, counts map[string]V) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", k, counts[k])
	}
	if len(keys) == 0 {
		builder.WriteString("(none)")
	}
	return builder.String()
}

func loadCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func incrementCounter(m *sync.Map, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
