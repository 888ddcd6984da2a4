package scheduler

import (
	"sync/atomic"
	"time"
)

// DefaultQuantum is how long a process may hold a worker before being
// preempted, absent an explicit override (spec.md §4.6: "Quantum duration
// defaults to 1 ms; configurable per runtime").
const DefaultQuantum = time.Millisecond

// DefaultQuantumInstructions bounds a quantum by instruction count instead
// of wall-clock time, since internal/vm.VM.Run is driven by an instruction
// budget rather than a clock. It approximates one millisecond of interpreted
// execution on typical hardware; callers that need true wall-clock
// preemption should pass a smaller value and rely on CheckDivergence /
// external cancellation for long-running native calls.
const DefaultQuantumInstructions uint64 = 50000

// quantumTimer tracks a single worker's current deadline and exposes an
// atomic force-preempt flag, letting a supervisor goroutine request an
// early preemption (e.g. on Suspend/Kill) without locking.
type quantumTimer struct {
	duration time.Duration
	deadline atomic.Int64 // UnixNano; 0 means "no quantum in flight"
	forced   atomic.Bool
}

func newQuantumTimer(duration time.Duration) *quantumTimer {
	if duration <= 0 {
		duration = DefaultQuantum
	}
	return &quantumTimer{duration: duration}
}

// start captures a new deadline for the quantum beginning now.
func (q *quantumTimer) start(now time.Time) {
	q.deadline.Store(now.Add(q.duration).UnixNano())
	q.forced.Store(false)
}

// shouldPreempt reports whether the current quantum has expired or a forced
// preemption was requested.
func (q *quantumTimer) shouldPreempt(now time.Time) bool {
	if q.forced.Load() {
		return true
	}
	deadline := q.deadline.Load()
	return deadline != 0 && now.UnixNano() >= deadline
}

// forcePreempt requests preemption at the next check, independent of the
// deadline; used when Suspend/Kill targets the process a worker is
// currently running.
func (q *quantumTimer) forcePreempt() {
	q.forced.Store(true)
}
