package scheduler

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/coreactors/runtime/internal/mailbox"
	"github.com/coreactors/runtime/internal/process"
	"github.com/coreactors/runtime/internal/value"
)

// Runnable is the subset of *process.Process the scheduler depends on. It
// exists so this package never needs to import internal/runtime, keeping
// the dependency direction process -> scheduler -> runtime (the facade)
// single-directional.
type Runnable interface {
	Self() value.PID
	State() process.State
	ProcessMessage(router process.Router, quantumInstrs uint64) (acted bool, action process.Action, fault *process.Fault)
	CheckDivergence(now time.Time)
	Mailbox() *mailbox.Mailbox
}

// Config tunes a Scheduler's worker count and timing. Zero values fall back
// to sane defaults.
type Config struct {
	Workers             int
	QuantumInstructions uint64
	DivergenceSweep     time.Duration
	IdleBackoff         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
		if c.Workers < 1 {
			c.Workers = 1
		}
	}
	if c.QuantumInstructions == 0 {
		c.QuantumInstructions = DefaultQuantumInstructions
	}
	if c.DivergenceSweep <= 0 {
		c.DivergenceSweep = 50 * time.Millisecond
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = time.Millisecond
	}
	return c
}

// Scheduler is the preemptive, work-stealing dispatcher of spec.md §4.6: a
// fixed pool of workers each owning a Deque, a shared ready heap for
// overflow and initial placement, a waiting set for processes blocked on an
// empty mailbox, and a background sweep that promotes waiting processes
// back to ready once their mailbox has messages and faults processes that
// have stalled past their divergence timeout.
//
// Grounded on the Start/Stop/ticker-driven run loop of
// other_examples/2f02d623_MongooseMoo-barn__server-scheduler.go.go's
// Scheduler, replacing its single dispatch goroutine with one worker per
// core plus work-stealing, since spec.md §4.6 calls for per-core
// parallelism rather than a single serialized task loop.
type Scheduler struct {
	cfg    Config
	router process.Router
	log    *logrus.Entry

	mu      sync.Mutex
	global  *readyQueue
	waiting map[value.PID]Runnable
	workers []*worker
	byPID   map[value.PID]Runnable

	fairness atomic.Int64

	onTerminated func(value.PID)

	stop    chan struct{}
	group   *errgroup.Group
	started bool
}

// New constructs a Scheduler bound to router (used to deliver messages
// spawned/sent by running processes) and log.
func New(cfg Config, router process.Router, log *logrus.Entry) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:     cfg,
		router:  router,
		log:     log,
		global:  newReadyQueue(),
		waiting: make(map[value.PID]Runnable),
		byPID:   make(map[value.PID]Runnable),
		stop:    make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.workers = append(s.workers, &worker{id: i, deque: NewDeque(), sched: s})
	}
	return s
}

// OnTerminated registers a hook invoked (from a worker goroutine) whenever a
// scheduled process reaches StateTerminated, so internal/runtime can drop it
// from the process table. A Suspended process is likewise dropped from
// every queue; internal/runtime must call Submit again after Resume.
func (s *Scheduler) OnTerminated(f func(value.PID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTerminated = f
}

// Start launches the worker pool and the divergence-sweep goroutine under an
// errgroup.Group, which Stop waits on — the same lifecycle discipline
// nmxmxh-inos_v1 and joeycumines-go-utilpkg apply to their own worker pools
// via golang.org/x/sync/errgroup. Every goroutine returns nil, and the
// group does not turn a panic into an error.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	g := &errgroup.Group{}
	s.group = g
	s.mu.Unlock()

	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			w.run()
			return nil
		})
	}
	g.Go(func() error {
		s.sweepLoop()
		return nil
	})
}

// Stop signals all workers and the sweep loop to exit and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	g := s.group
	s.mu.Unlock()

	close(s.stop)
	if g != nil {
		_ = g.Wait()
	}
	s.stop = make(chan struct{})
}

// Submit enqueues r as ready at the given priority, placing it on the
// least-loaded worker's deque (a simple static load-balancing rule; dynamic
// balancing happens afterward via stealing).
func (s *Scheduler) Submit(r Runnable, priority Priority) {
	s.mu.Lock()
	s.byPID[r.Self()] = r
	delete(s.waiting, r.Self())
	s.mu.Unlock()

	ready := &Ready{Run: r, Priority: priority, LastScheduled: s.fairness.Add(1)}
	s.leastLoadedWorker().deque.PushBottom(ready)
}

// Forget removes a process from scheduler bookkeeping without requiring it
// to pass back through a ready/waiting transition; used when a process is
// killed externally.
func (s *Scheduler) Forget(pid value.PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byPID, pid)
	delete(s.waiting, pid)
}

func (s *Scheduler) leastLoadedWorker() *worker {
	best := s.workers[0]
	for _, w := range s.workers[1:] {
		if w.deque.Len() < best.deque.Len() {
			best = w
		}
	}
	return best
}

// moveToWaiting records r as blocked on its mailbox; the sweep loop will
// promote it back to ready once that mailbox is non-empty.
func (s *Scheduler) moveToWaiting(r *Ready) {
	s.mu.Lock()
	s.waiting[r.Run.Self()] = r.Run
	s.mu.Unlock()
}

// reenqueue places r back on the submitting worker's own deque (LIFO
// continuation), refreshing its fairness timestamp.
func (s *Scheduler) reenqueue(w *worker, r *Ready) {
	r.LastScheduled = s.fairness.Add(1)
	w.deque.PushBottom(r)
}

func (s *Scheduler) terminate(pid value.PID) {
	s.mu.Lock()
	delete(s.byPID, pid)
	delete(s.waiting, pid)
	hook := s.onTerminated
	s.mu.Unlock()
	if hook != nil {
		hook(pid)
	}
}

// sweepLoop is the ticker-driven background pass (grounded on the same
// MongooseMoo-barn Scheduler ticker pattern) that promotes waiting
// processes whose mailbox gained a message and checks every still-running
// process for divergence.
func (s *Scheduler) sweepLoop() {
	ticker := time.NewTicker(s.cfg.DivergenceSweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Scheduler) sweep(now time.Time) {
	s.mu.Lock()
	promotable := make([]Runnable, 0, len(s.waiting))
	for pid, r := range s.waiting {
		if r.Mailbox().Len() > 0 {
			promotable = append(promotable, r)
			delete(s.waiting, pid)
		}
	}
	running := make([]Runnable, 0, len(s.byPID))
	for _, r := range s.byPID {
		running = append(running, r)
	}
	s.mu.Unlock()

	for _, r := range promotable {
		s.Submit(r, PriorityNormal)
	}
	for _, r := range running {
		if r.State() == process.StateRunning {
			r.CheckDivergence(now)
		}
	}
}
