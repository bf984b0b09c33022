// Package broadcast drives the periodic capture, encode and fan-out cycle.
package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"eidolon/model"
)

var (
	// ErrStopped is returned by Start on a scheduler that was stopped.
	// A stopped scheduler is terminal; build a new one to resume.
	ErrStopped = errors.New("broadcast: scheduler stopped")
	// ErrRunning is returned by Start on a scheduler that is already running.
	ErrRunning = errors.New("broadcast: scheduler already running")
)

const DefaultInterval = time.Second

// Capturer produces snapshots.
type Capturer interface {
	Capture() model.Snapshot
}

// Encoder serializes a snapshot for the wire.
type Encoder interface {
	Encode(model.Snapshot) ([]byte, error)
}

// Target is the subscriber set ticks are delivered to.
type Target interface {
	Size() int
	Broadcast(payload []byte) int
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	Capturer Capturer
	Encoder  Encoder
	Target   Target
	// OnError observes failed ticks. The scheduler keeps running.
	OnError func(error)
}

type state int32

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// Stats holds tick outcome totals.
type Stats struct {
	Ticks      uint64
	Skipped    uint64
	Failures   uint64
	Broadcasts uint64
}

// Scheduler runs one tick per interval on a single goroutine. Ticks never
// overlap: an overrunning tick delays the next one.
type Scheduler struct {
	interval time.Duration
	capturer Capturer
	encoder  Encoder
	target   Target
	onError  func(error)

	mu       sync.Mutex
	state    state
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	ticks      atomic.Uint64
	skipped    atomic.Uint64
	failures   atomic.Uint64
	broadcasts atomic.Uint64
}

// NewScheduler validates opts and returns a scheduler in the new state.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Capturer == nil || opts.Encoder == nil || opts.Target == nil {
		return nil, errors.New("broadcast: capturer, encoder and target are required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		capturer: opts.Capturer,
		encoder:  opts.Encoder,
		target:   opts.Target,
		onError:  opts.OnError,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start arms the ticker.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		return ErrRunning
	case stateStopped:
		return ErrStopped
	}
	s.state = stateRunning
	go s.run()
	return nil
}

// Stop prevents further ticks and waits for an in-flight tick to finish.
// Calling it repeatedly, or before Start, is a no-op. It must not be called
// from inside a tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	prev := s.state
	s.state = stateStopped
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.quit) })
	if prev == stateRunning {
		<-s.done
	}
}

// Running reports whether the ticker is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Stats returns the tick totals.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:      s.ticks.Load(),
		Skipped:    s.skipped.Load(),
		Failures:   s.failures.Load(),
		Broadcasts: s.broadcasts.Load(),
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
		}
		// A stop that raced the tick wins.
		select {
		case <-s.quit:
			return
		default:
		}
		if err := s.tick(); err != nil {
			s.failures.Add(1)
			if s.onError != nil {
				s.onError(err)
			}
		}
	}
}

// tick performs one cycle. Subscriber-less ticks do no capture or encode work.
func (s *Scheduler) tick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broadcast: tick panicked: %v", r)
		}
	}()
	s.ticks.Add(1)
	if s.target.Size() == 0 {
		s.skipped.Add(1)
		return nil
	}
	snap := s.capturer.Capture()
	payload, err := s.encoder.Encode(snap)
	if err != nil {
		return fmt.Errorf("broadcast: encode snapshot: %w", err)
	}
	s.target.Broadcast(payload)
	s.broadcasts.Add(1)
	return nil
}
