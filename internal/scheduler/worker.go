package scheduler

import (
	"time"

	"github.com/coreactors/runtime/internal/process"
)

// worker is one scheduler goroutine: it owns a Deque, drains its own ready
// work first, then the shared global queue, then steals from siblings
// before idling. Each dispatch runs at most one quantum of one process's
// mailbox before yielding the worker back to the loop, implementing the
// preemptive multiplexing of spec.md §4.6.
type worker struct {
	id    int
	deque *Deque
	sched *Scheduler
}

func (w *worker) run() {
	backoff := w.sched.cfg.IdleBackoff
	for {
		select {
		case <-w.sched.stop:
			return
		default:
		}

		r := w.next()
		if r == nil {
			time.Sleep(backoff)
			continue
		}
		w.execute(r)
	}
}

// next finds ready work in priority order: this worker's own deque, the
// shared global ready heap, then a steal-half attempt against every
// sibling worker (SPEC_FULL §C7's steal-batching supplement, amortizing the
// cost of a steal across a run of work instead of stealing one item at a
// time).
func (w *worker) next() *Ready {
	if r := w.deque.PopBottom(); r != nil {
		return r
	}

	w.sched.mu.Lock()
	r := w.sched.global.pop()
	w.sched.mu.Unlock()
	if r != nil {
		return r
	}

	for _, sibling := range w.sched.workers {
		if sibling == w {
			continue
		}
		stolen := sibling.deque.StealHalf()
		if len(stolen) == 0 {
			continue
		}
		for _, extra := range stolen[1:] {
			w.deque.PushBottom(extra)
		}
		return stolen[0]
	}
	return nil
}

// execute runs one quantum of r's behavior and re-files it according to the
// process state that results: re-enqueued if still Running, parked in the
// waiting set if Waiting, dropped (with a termination notification) if
// Terminated, or dropped off every queue if Suspended — the caller that
// resumes it (internal/runtime, on a management-surface Resume command)
// is responsible for calling Scheduler.Submit again.
func (w *worker) execute(r *Ready) {
	proc := r.Run
	if proc.State() != process.StateRunning {
		w.refile(r, proc.State())
		return
	}

	proc.ProcessMessage(w.sched.router, w.sched.cfg.QuantumInstructions)
	w.refile(r, proc.State())
}

func (w *worker) refile(r *Ready, state process.State) {
	switch state {
	case process.StateRunning:
		w.sched.reenqueue(w, r)
	case process.StateWaiting:
		w.sched.moveToWaiting(r)
	case process.StateTerminated:
		w.sched.terminate(r.Run.Self())
	case process.StateSuspended:
		// Left off every queue; Scheduler.Submit re-enqueues on Resume.
	}
}
