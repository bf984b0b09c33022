// Package buffer provides the bounded lifecycle-event log shared by the event
// ingestor (writer) and the snapshot aggregator (reader). A single mutex
// guards push, eviction and copy-out so a reader never sees the ring over
// capacity or an event that vanishes halfway through a copy.
package buffer

import (
	"sync"

	"eidolon/model"
)

// EventRing is a fixed-capacity FIFO of lifecycle events. When full, each
// push evicts the oldest entry.
type EventRing struct {
	mu       sync.Mutex
	slots    []model.LifecycleEvent
	head     int // index of the oldest event
	size     int
	capacity int
	total    uint64 // events pushed since creation (may exceed capacity)
	evicted  uint64
}

// NewEventRing allocates a ring with the given capacity. Capacities below one
// are raised to one.
func NewEventRing(capacity int) *EventRing {
	if capacity < 1 {
		capacity = 1
	}
	return &EventRing{
		slots:    make([]model.LifecycleEvent, capacity),
		capacity: capacity,
	}
}

// Push appends ev at the tail, evicting from the head when the ring is full.
func (r *EventRing) Push(ev model.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	tail := (r.head + r.size) % r.capacity
	r.slots[tail] = ev
	if r.size < r.capacity {
		r.size++
		return
	}
	// Ring was full: the tail slot was the head, so the oldest entry is gone.
	r.head = (r.head + 1) % r.capacity
	r.evicted++
}

// Snapshot returns an oldest-first copy of the stored events. The copy is
// never affected by later pushes.
func (r *EventRing) Snapshot() []model.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.LifecycleEvent, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.slots[(r.head+i)%r.capacity]
	}
	return out
}

// Clear drops every stored event. Counters are preserved.
func (r *EventRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		r.slots[i] = model.LifecycleEvent{}
	}
	r.head = 0
	r.size = 0
}

// Len returns the number of events currently stored.
func (r *EventRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the configured capacity.
func (r *EventRing) Cap() int {
	return r.capacity
}

// Total returns the number of events pushed since creation.
func (r *EventRing) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Evicted returns how many events were pushed out by newer ones.
func (r *EventRing) Evicted() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}
