package buffer

import (
	"fmt"
	"sync"
	"testing"

	"eidolon/model"
)

func event(n int) model.LifecycleEvent {
	return model.LifecycleEvent{Source: fmt.Sprintf("gc-%d", n), Action: "end of minor GC"}
}

func TestPushEvictsOldestBeyondCapacity(t *testing.T) {
	r := NewEventRing(3)
	for i := 1; i <= 5; i++ {
		r.Push(event(i))
	}
	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, want := range []string{"gc-3", "gc-4", "gc-5"} {
		if got[i].Source != want {
			t.Fatalf("index %d: expected %s, got %s", i, want, got[i].Source)
		}
	}
	if r.Total() != 5 {
		t.Fatalf("expected total 5, got %d", r.Total())
	}
	if r.Evicted() != 2 {
		t.Fatalf("expected 2 evictions, got %d", r.Evicted())
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	r := NewEventRing(4)
	r.Push(event(1))
	r.Push(event(2))
	snap := r.Snapshot()
	r.Push(event(3))
	r.Clear()
	if len(snap) != 2 || snap[0].Source != "gc-1" || snap[1].Source != "gc-2" {
		t.Fatalf("snapshot changed after later mutations: %+v", snap)
	}
}

func TestClearEmptiesRing(t *testing.T) {
	r := NewEventRing(2)
	r.Push(event(1))
	r.Push(event(2))
	r.Clear()
	if r.Len() != 0 || len(r.Snapshot()) != 0 {
		t.Fatalf("expected empty ring after Clear")
	}
	r.Push(event(9))
	got := r.Snapshot()
	if len(got) != 1 || got[0].Source != "gc-9" {
		t.Fatalf("expected ring to be usable after Clear, got %+v", got)
	}
}

func TestZeroCapacityClampedToOne(t *testing.T) {
	r := NewEventRing(0)
	if r.Cap() != 1 {
		t.Fatalf("expected capacity 1, got %d", r.Cap())
	}
	r.Push(event(1))
	r.Push(event(2))
	got := r.Snapshot()
	if len(got) != 1 || got[0].Source != "gc-2" {
		t.Fatalf("expected only newest event, got %+v", got)
	}
}

func TestConcurrentPushAndSnapshotStayBounded(t *testing.T) {
	const (
		capacity  = 64
		writers   = 8
		perWriter = 2000
	)
	r := NewEventRing(capacity)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := len(r.Snapshot()); n > capacity {
				select {
				case errs <- fmt.Errorf("snapshot over capacity: %d", n):
				default:
				}
				return
			}
		}
	}()

	var writersWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func(w int) {
			defer writersWG.Done()
			for i := 0; i < perWriter; i++ {
				r.Push(event(w*perWriter + i))
			}
		}(w)
	}
	writersWG.Wait()
	close(stop)
	wg.Wait()

	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}
	if r.Total() != writers*perWriter {
		t.Fatalf("expected %d pushes recorded, got %d", writers*perWriter, r.Total())
	}
	if r.Len() != capacity {
		t.Fatalf("expected full ring of %d, got %d", capacity, r.Len())
	}
	// Stored events must be unique: no duplicated push.
	seen := make(map[string]struct{}, capacity)
	for _, ev := range r.Snapshot() {
		if _, dup := seen[ev.Source]; dup {
			t.Fatalf("duplicate event %s in ring", ev.Source)
		}
		seen[ev.Source] = struct{}{}
	}
}
