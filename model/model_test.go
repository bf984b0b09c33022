package model

import "testing"

func TestNormalizeNegativeBecomesUnknown(t *testing.T) {
	cases := map[int64]int64{
		-1:    Unknown,
		-42:   Unknown,
		0:     0,
		12345: 12345,
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%d): expected %d, got %d", in, want, got)
		}
	}
}

func TestNormalizeUsage(t *testing.T) {
	got := NormalizeUsage(Usage{Init: -5, Used: 10, Committed: 0, Max: -9})
	if got.Init != Unknown || got.Used != 10 || got.Committed != 0 || got.Max != Unknown {
		t.Fatalf("unexpected normalized usage: %+v", got)
	}
}

func TestNewStateCountsHasEveryState(t *testing.T) {
	counts := NewStateCounts()
	states := AllThreadStates()
	if len(counts) != len(states) {
		t.Fatalf("expected %d states, got %d", len(states), len(counts))
	}
	for _, s := range states {
		v, ok := counts[s]
		if !ok {
			t.Fatalf("expected state %s to be present", s)
		}
		if v != 0 {
			t.Fatalf("expected state %s to default to 0, got %d", s, v)
		}
	}
}

func TestAllThreadStatesReturnsCopy(t *testing.T) {
	a := AllThreadStates()
	a[0] = "MUTATED"
	if AllThreadStates()[0] == "MUTATED" {
		t.Fatalf("expected AllThreadStates to return an independent slice")
	}
}

func TestClassifyWaitReason(t *testing.T) {
	cases := map[string]ThreadState{
		"running":                  StateRunning,
		"runnable":                 StateRunnable,
		"syscall":                  StateSyscall,
		"IO wait":                  StateIOWait,
		"IO wait, 5 minutes":       StateIOWait,
		"sleep":                    StateTimedWaiting,
		"sync.Mutex.Lock":          StateBlocked,
		"semacquire":               StateBlocked,
		"sync.Cond.Wait":           StateBlocked,
		"chan receive":             StateWaiting,
		"select, 2 minutes":        StateWaiting,
		"something new in go 1.99": StateWaiting,
	}
	for reason, want := range cases {
		if got := ClassifyWaitReason(reason); got != want {
			t.Fatalf("ClassifyWaitReason(%q): expected %s, got %s", reason, want, got)
		}
	}
}
