package runtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/coreactors/runtime/internal/value"
)

// gcCycle implements spec.md §4.9's GC cycle: "not an object GC... it
// reclaims arenas and mailboxes of terminated processes after a quiescence
// barrier, and compacts mailboxes whose watermark is below their readers'
// progress." Reclamation runs on a ticker. Each sweep acquires the full
// weight of a weighted semaphore (SPEC_FULL §B, golang.org/x/sync/semaphore)
// and nothing else acquires it, so sweeps run one at a time whatever
// gcConcurrency is; the semaphore does not track dispatches. A PID is only
// enqueued after the scheduler has dropped the terminated process.
// Compaction of live mailboxes keeps a fixed trailing window of
// gcCompactionWindow versions; it does not consult any reader's cursor.
type gcCycle struct {
	rt       *Runtime
	sem      *semaphore.Weighted
	weight   int64
	interval time.Duration

	mu      sync.Mutex
	pending []value.PID

	quit    chan struct{}
	wg      sync.WaitGroup
	running bool
}

func newGCCycle(rt *Runtime, concurrency int64, interval time.Duration) *gcCycle {
	if concurrency <= 0 {
		concurrency = 4
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &gcCycle{
		rt:       rt,
		sem:      semaphore.NewWeighted(concurrency),
		weight:   concurrency,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// enqueue marks pid as eligible for reclamation on the next sweep. Called
// from Runtime.handleTerminated once a process has reached StateTerminated and
// the scheduler has drained it from every queue (spec.md §4.9's process
// lifecycle: "destroyed when state becomes Terminated and the scheduler has
// drained its queue").
func (g *gcCycle) enqueue(pid value.PID) {
	g.mu.Lock()
	g.pending = append(g.pending, pid)
	g.mu.Unlock()
}

func (g *gcCycle) start() {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.quit = make(chan struct{})
	g.mu.Unlock()

	g.wg.Add(1)
	go g.loop()
}

func (g *gcCycle) stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	close(g.quit)
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *gcCycle) loop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.quit:
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

// sweep closes every pending PID's mailbox and drops its process-table
// entry (the arena and mailbox go with it), then compacts the mailbox of
// every process still in the table to the trailing window (spec.md §4.9).
// It acquires the semaphore's full weight first, so two sweeps never
// overlap.
func (g *gcCycle) sweep() {
	ctx := context.Background()
	if err := g.sem.Acquire(ctx, g.weight); err != nil {
		return
	}
	defer g.sem.Release(g.weight)

	g.mu.Lock()
	batch := g.pending
	g.pending = nil
	g.mu.Unlock()

	if len(batch) == 0 {
		g.compactLive()
		return
	}

	g.rt.mu.Lock()
	for _, pid := range batch {
		if e, ok := g.rt.procs[pid]; ok {
			e.proc.Mailbox().Close()
			delete(g.rt.procs, pid)
		}
	}
	g.rt.mu.Unlock()

	g.rt.stats.gcCycleCompleted()
	g.compactLive()
}

// compactLive drops old mailbox entries for processes that are still
// running, keeping a fixed trailing window of versions per mailbox so
// long-lived actors do not retain their entire message history forever.
const gcCompactionWindow = 10000

func (g *gcCycle) compactLive() {
	g.rt.mu.RLock()
	procs := make([]*procEntry, 0, len(g.rt.procs))
	for _, e := range g.rt.procs {
		procs = append(procs, e)
	}
	g.rt.mu.RUnlock()

	for _, e := range procs {
		e.proc.Mailbox().Compact(gcCompactionWindow)
	}
}
