package model

import "strings"

// ThreadState is the scheduler state a goroutine was observed in.
type ThreadState string

const (
	StateRunning      ThreadState = "RUNNING"
	StateRunnable     ThreadState = "RUNNABLE"
	StateWaiting      ThreadState = "WAITING"
	StateTimedWaiting ThreadState = "TIMED_WAITING"
	StateBlocked      ThreadState = "BLOCKED"
	StateSyscall      ThreadState = "SYSCALL"
	StateIOWait       ThreadState = "IO_WAIT"
)

var allThreadStates = []ThreadState{
	StateRunning,
	StateRunnable,
	StateWaiting,
	StateTimedWaiting,
	StateBlocked,
	StateSyscall,
	StateIOWait,
}

// AllThreadStates returns every defined state in display order.
func AllThreadStates() []ThreadState {
	out := make([]ThreadState, len(allThreadStates))
	copy(out, allThreadStates)
	return out
}

// NewStateCounts returns a map holding every defined state at zero.
func NewStateCounts() map[ThreadState]int {
	counts := make(map[ThreadState]int, len(allThreadStates))
	for _, s := range allThreadStates {
		counts[s] = 0
	}
	return counts
}

// ClassifyWaitReason maps a goroutine dump status ("chan receive",
// "IO wait, 3 minutes", "running") onto a ThreadState.
func ClassifyWaitReason(reason string) ThreadState {
	reason = strings.ToLower(strings.TrimSpace(reason))
	if idx := strings.IndexByte(reason, ','); idx >= 0 {
		reason = strings.TrimSpace(reason[:idx])
	}
	switch {
	case reason == "running":
		return StateRunning
	case reason == "runnable":
		return StateRunnable
	case reason == "syscall":
		return StateSyscall
	case reason == "io wait":
		return StateIOWait
	case reason == "sleep", strings.HasPrefix(reason, "timer"):
		return StateTimedWaiting
	case strings.HasPrefix(reason, "sync.mutex"), strings.HasPrefix(reason, "sync.rwmutex"),
		strings.HasPrefix(reason, "semacquire"), reason == "sync.cond.wait":
		return StateBlocked
	default:
		return StateWaiting
	}
}
