package scheduler

import "container/heap"

// readyHeap is the global ready queue: a priority heap ordered first by
// Priority (High > Normal > Low), then by LastScheduled ascending so that,
// within a class, the process that has waited longest runs next (the
// fairness rule of spec.md §4.6). Workers drain their own local Deque first,
// then pull from this heap, and only then steal from their siblings' deques
// (worker.next).
//
// Grounded on the container/heap priority queue in
// other_examples/2f02d623_MongooseMoo-barn__server-scheduler.go.go's
// TaskQueue (a heap.Interface ordered by task start time), with the
// ordering key changed from "earliest start time" to "priority class, then
// fairness timestamp".
type readyHeap []*Ready

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].LastScheduled < h[j].LastScheduled
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) {
	*h = append(*h, x.(*Ready))
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// readyQueue wraps readyHeap with the heap.Interface calls and a guard for
// empty pops, so callers never need to import container/heap themselves.
type readyQueue struct {
	h readyHeap
}

func newReadyQueue() *readyQueue {
	rq := &readyQueue{}
	heap.Init(&rq.h)
	return rq
}

func (q *readyQueue) push(r *Ready) {
	heap.Push(&q.h, r)
}

func (q *readyQueue) pop() *Ready {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Ready)
}

func (q *readyQueue) len() int {
	return q.h.Len()
}
