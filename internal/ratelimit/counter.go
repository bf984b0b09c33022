// Package ratelimit throttles hot-path log lines such as per-subscriber
// delivery failures and failed broadcast ticks.
package ratelimit

import (
	"log"
	"sync/atomic"
	"time"
)

// Counter counts occurrences and allows at most one log per interval.
// Safe for concurrent use.
type Counter struct {
	interval time.Duration
	now      func() time.Time
	lastLog  atomic.Int64
	total    atomic.Uint64
	lastSeen atomic.Uint64 // total at the last allowed log
}

// NewCounter returns a Counter; interval <= 0 disables throttling.
func NewCounter(interval time.Duration) *Counter {
	return &Counter{interval: interval, now: time.Now}
}

// Inc records one occurrence. It returns the running total, how many
// occurrences were suppressed since the previous allowed log, and whether this
// one may be logged.
func (c *Counter) Inc() (total, suppressed uint64, allowed bool) {
	if c == nil {
		return 0, 0, false
	}
	total = c.total.Add(1)
	if c.interval > 0 {
		now := c.now().UnixNano()
		last := c.lastLog.Load()
		if last != 0 && now-last < c.interval.Nanoseconds() {
			return total, 0, false
		}
		if !c.lastLog.CompareAndSwap(last, now) {
			return total, 0, false
		}
	}
	prev := c.lastSeen.Swap(total)
	if total-prev > 0 {
		suppressed = total - prev - 1
	}
	return total, suppressed, true
}

// Total returns the number of recorded occurrences.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}

// Logger prints through log.Printf when its Counter allows.
type Logger struct {
	prefix  string
	counter *Counter
	printf  func(string, ...any)
}

// NewLogger returns a throttled logger that prefixes each line.
func NewLogger(prefix string, interval time.Duration) *Logger {
	return &Logger{prefix: prefix, counter: NewCounter(interval), printf: log.Printf}
}

// Printf records an occurrence and logs it unless throttled. Suppressed
// occurrences are reported on the next line that gets through.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	total, suppressed, ok := l.counter.Inc()
	if !ok {
		return
	}
	if suppressed > 0 {
		l.printf(l.prefix+format+" (total=%d, %d suppressed)", append(args, total, suppressed)...)
		return
	}
	l.printf(l.prefix+format, args...)
}

// Total returns the number of Printf calls.
func (l *Logger) Total() uint64 {
	if l == nil {
		return 0
	}
	return l.counter.Total()
}
