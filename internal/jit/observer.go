package jit

import (
	"sync"
	"time"
)

// key identifies one function within one program for hot-spot tracking and
// cache lookup.
type key struct {
	program  string
	function uint32
}

// hotSpotObserver records per-function execution counts and the time of
// last (re)compilation, implementing spec.md §4.8 rule 4: "a function is
// promoted to native when its count crosses a threshold AND at least N
// seconds have elapsed since its last recompilation."
type hotSpotObserver struct {
	mu            sync.Mutex
	counts        map[key]int64
	lastCompiled  map[key]time.Time
	threshold     int64
	cooldown      time.Duration
}

func newHotSpotObserver(threshold int64, cooldown time.Duration) *hotSpotObserver {
	if threshold <= 0 {
		threshold = 1000
	}
	return &hotSpotObserver{
		counts:       make(map[key]int64),
		lastCompiled: make(map[key]time.Time),
		threshold:    threshold,
		cooldown:     cooldown,
	}
}

// record increments k's execution count and reports whether it has now
// crossed the promotion threshold with enough time elapsed since it was
// last (re)compiled.
func (o *hotSpotObserver) record(k key, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[k]++
	if o.counts[k] < o.threshold {
		return false
	}
	last, ok := o.lastCompiled[k]
	if ok && now.Sub(last) < o.cooldown {
		return false
	}
	return true
}

// markCompiled resets k's counter and timestamps the compilation, so the
// next promotion check waits a full cooldown again.
func (o *hotSpotObserver) markCompiled(k key, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[k] = 0
	o.lastCompiled[k] = now
}

// forget drops k's bookkeeping entirely, used on deoptimization so a
// subsequent hot run starts the promotion count fresh.
func (o *hotSpotObserver) forget(k key) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.counts, k)
	delete(o.lastCompiled, k)
}
