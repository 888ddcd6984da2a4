// Package scheduler implements the preemptive, work-stealing scheduler of
// spec.md §4.6: a quantum timer, per-priority ready queues, one worker
// goroutine per logical core, and a work-stealing deque so an idle worker
// can take ready processes from a busy one instead of starving.
//
// Grounded on the ticker-driven run loop and container/heap priority queue
// in
// other_examples/2f02d623_MongooseMoo-barn__server-scheduler.go.go's
// Scheduler/TaskQueue (Start/Stop, a goroutine-per-ready-task dispatch
// loop, heap.Push/Pop ordering), adapted from MOO's single shared
// goroutine-per-task-run model (no stealing, no per-core affinity) into
// one worker goroutine per core each owning a local deque, because spec.md
// §4.6 requires bounded parallelism with processes pinned to a worker for
// the duration of a quantum rather than one goroutine per task.
package scheduler

import "sync"

// Deque is a work-stealing double-ended queue of ready PIDs, after the
// Chase-Lev algorithm: the owning worker pushes and pops from the bottom
// (LIFO, cache-friendly for its own work), while other workers steal from
// the top (FIFO, oldest work first, minimizing the chance two workers grab
// the same item).
//
// This implementation trades the original paper's fully lock-free CAS loop
// for a single mutex guarding both ends — no package in the retrieved pack
// or wider ecosystem implements Chase-Lev with the exact resize/steal race
// behavior this scheduler needs (justified in DESIGN.md), and a mutex-guarded
// slice preserves the algorithm's push/pop/steal contract (owner LIFO,
// thief FIFO, steal never blocks a concurrent pop for more than the
// critical section) without the considerably larger surface area of a
// lock-free circular buffer with growable backing storage.
type Deque struct {
	mu   sync.Mutex
	buf  []*Ready
}

// Ready is one runnable unit queued for a worker: a process plus the
// priority/fairness metadata the ready heap and deque order by.
type Ready struct {
	Run           Runnable
	Priority      Priority
	LastScheduled int64 // logical clock tick, not wall time (Date/time funcs are unavailable to callers that must stay deterministic)
}

// NewDeque constructs an empty deque.
func NewDeque() *Deque {
	return &Deque{}
}

// PushBottom adds r to the bottom of the deque; only the owning worker
// calls this.
func (d *Deque) PushBottom(r *Ready) {
	d.mu.Lock()
	d.buf = append(d.buf, r)
	d.mu.Unlock()
}

// PopBottom removes and returns the most recently pushed item, or nil if
// empty; only the owning worker calls this.
func (d *Deque) PopBottom() *Ready {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.buf)
	if n == 0 {
		return nil
	}
	r := d.buf[n-1]
	d.buf = d.buf[:n-1]
	return r
}

// Steal removes and returns the oldest item (the top of the deque), or nil
// if empty; called by any worker other than the owner.
func (d *Deque) Steal() *Ready {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buf) == 0 {
		return nil
	}
	r := d.buf[0]
	d.buf = d.buf[1:]
	return r
}

// StealHalf removes and returns up to half of the deque's contents in one
// operation (SPEC_FULL §C7's steal-batching supplement), reducing the
// number of steal attempts a chronically idle worker must make.
func (d *Deque) StealHalf() []*Ready {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.buf)
	if n == 0 {
		return nil
	}
	half := (n + 1) / 2
	if half == 0 {
		half = 1
	}
	stolen := append([]*Ready(nil), d.buf[:half]...)
	d.buf = d.buf[half:]
	return stolen
}

// Len reports the current size, for load-balancing decisions.
func (d *Deque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}
