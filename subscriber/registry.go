// Package subscriber tracks live snapshot subscribers and fans encoded
// payloads out to them.
//
// Membership is guarded by a mutex. Broadcast copies the membership at start
// and delivers outside the lock, so Add/Remove during a broadcast take effect
// on the next one and a slow subscriber never blocks registration.
package subscriber

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Subscriber receives encoded snapshot payloads. Send must not retain payload
// after returning unless it copies it; the same slice is handed to every
// subscriber in a broadcast.
type Subscriber interface {
	Send(payload []byte) error
}

// FailureFunc observes a failed delivery. The subscriber stays registered;
// transport owners decide whether to remove it.
type FailureFunc func(sub Subscriber, err error)

// Registry is a concurrent set of subscribers keyed by identity.
type Registry struct {
	mu      sync.RWMutex
	members map[Subscriber]struct{}

	onFailure FailureFunc

	broadcasts atomic.Uint64
	deliveries atomic.Uint64
	failures   atomic.Uint64
}

// NewRegistry returns an empty registry. onFailure may be nil.
func NewRegistry(onFailure FailureFunc) *Registry {
	return &Registry{
		members:   make(map[Subscriber]struct{}),
		onFailure: onFailure,
	}
}

// Add registers sub. It reports false if sub was already present.
func (r *Registry) Add(sub Subscriber) bool {
	if sub == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[sub]; ok {
		return false
	}
	r.members[sub] = struct{}{}
	return true
}

// Remove unregisters sub. It reports false if sub was not present.
func (r *Registry) Remove(sub Subscriber) bool {
	if sub == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[sub]; !ok {
		return false
	}
	delete(r.members, sub)
	return true
}

// Contains reports whether sub is registered.
func (r *Registry) Contains(sub Subscriber) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sub]
	return ok
}

// Size returns the current member count.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Registry) snapshotMembers() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.members))
	for sub := range r.members {
		out = append(out, sub)
	}
	return out
}

// Purpose: Deliver payload to every member.
// Key aspects: Each Send runs under its own recover; one failing subscriber
// never prevents delivery to the rest and is not removed.
// Upstream: broadcast.Scheduler tick.
// Downstream: Subscriber.Send, FailureFunc.
func (r *Registry) Broadcast(payload []byte) (delivered int) {
	targets := r.snapshotMembers()
	r.broadcasts.Add(1)
	for _, sub := range targets {
		if err := r.deliver(sub, payload); err != nil {
			r.failures.Add(1)
			if r.onFailure != nil {
				r.onFailure(sub, err)
			}
			continue
		}
		delivered++
	}
	r.deliveries.Add(uint64(delivered))
	return delivered
}

func (r *Registry) deliver(sub Subscriber, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("subscriber: send panicked: %v", rec)
		}
	}()
	return sub.Send(payload)
}

// Counters returns broadcast, successful delivery and failure totals.
func (r *Registry) Counters() (broadcasts, deliveries, failures uint64) {
	return r.broadcasts.Load(), r.deliveries.Load(), r.failures.Load()
}
