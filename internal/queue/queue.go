// Package queue implements RequestQueue (spec.md §4.2): a priority FIFO
// keyed by (priority desc, created_at asc), with blocking dequeue,
// max-depth rejection, and per-provider depth accounting.
package queue

import (
	"container/heap"
	"sync"

	"github.com/BaSui01/agentflow/types"
)

// Stats is the snapshot returned by Queue.Stats.
type Stats struct {
	QueueDepth     int            `json:"queue_depth"`
	ProcessingCount int           `json:"processing_count"`
	MaxConcurrent  int            `json:"max_concurrent"`
	ByProvider     map[string]int `json:"by_provider"`
}

// item is one heap entry. seq breaks ties between equal-priority entries
// so FIFO order is preserved within a priority band (container/heap is not
// stable on its own).
type item struct {
	req   *types.Request
	seq   int64
	index int
}

// priorityHeap orders by (priority desc, seq asc). Nothing in the
// retrieval pack implements a priority queue — TunableChannel is FIFO-only —
// so this ordering layer is a small stdlib container/heap addition; see
// DESIGN.md for the "never fabricate a dependency for a 20-line need" note.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the in-memory priority FIFO. MaxDepth bounds total entries still
// waiting to be dequeued; MaxConcurrent is the concurrency budget that
// Backpressure mutates live. The queue stores it but does not limit
// Dequeue calls by it.
type Queue struct {
	mu            sync.Mutex
	notEmpty      *sync.Cond
	heap          priorityHeap
	byID          map[string]*item
	processing    map[string]struct{}
	seq           int64
	maxDepth      int
	maxConcurrent int
	closed        bool
}

// New creates a Queue with the given depth cap and initial concurrency
// budget (the budget is mutable at runtime via SetMaxConcurrent; the depth
// cap is fixed).
func New(maxDepth, maxConcurrent int) *Queue {
	q := &Queue{
		byID:          make(map[string]*item),
		processing:    make(map[string]struct{}),
		maxDepth:      maxDepth,
		maxConcurrent: maxConcurrent,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds req to the queue. Returns false if the queue is at max depth.
func (q *Queue) Enqueue(req *types.Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(q.heap) >= q.maxDepth {
		return false
	}

	q.seq++
	it := &item{req: req, seq: q.seq}
	heap.Push(&q.heap, it)
	q.byID[req.ID] = it
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a request is available or the queue is closed (in
// which case it returns nil, false). The dequeued request is recorded as
// "processing" until the caller passes its ID to MarkCompleted.
func (q *Queue) Dequeue() (*types.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.heap) == 0 {
		return nil, false
	}

	it := heap.Pop(&q.heap).(*item)
	delete(q.byID, it.req.ID)
	q.processing[it.req.ID] = struct{}{}
	return it.req, true
}

// MarkCompleted removes a request from the processing set, whether it
// succeeded or failed; RequestQueue itself holds no response/error payload,
// that belongs to the StateStore.
func (q *Queue) MarkCompleted(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, id)
}

// Cancel removes a request still waiting in the queue. It returns true if
// the request was found (and removed) there. A request already dequeued
// into processing is not removed by Cancel — the caller must cancel its
// context separately; Cancel only reports whether it was still queued.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, it.index)
	delete(q.byID, id)
	return true
}

// SetMaxConcurrent updates the concurrency budget Backpressure controls.
func (q *Queue) SetMaxConcurrent(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxConcurrent = n
}

// MaxConcurrent returns the current concurrency budget.
func (q *Queue) MaxConcurrent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxConcurrent
}

// ProcessingCount returns the number of requests currently dispatched.
func (q *Queue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

// Depth returns the number of requests still waiting.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Stats returns a full snapshot, including a per-provider depth breakdown.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byProvider := make(map[string]int)
	for _, it := range q.heap {
		p := it.req.Provider
		if p == "" {
			p = "auto"
		}
		byProvider[p]++
	}

	return Stats{
		QueueDepth:      len(q.heap),
		ProcessingCount: len(q.processing),
		MaxConcurrent:   q.maxConcurrent,
		ByProvider:      byProvider,
	}
}

// Close unblocks all pending Dequeue callers; they return (nil, false).
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}
