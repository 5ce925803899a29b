package core

import (
	"container/heap"
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// WorkItem is a runnable waiting for a pool worker.
type WorkItem struct {
	Run    Runnable
	Traits TaskTraits
}

// TaskQueue defines the interface for the ready queues a TaskScheduler can use.
type TaskQueue interface {
	Push(r Runnable, traits TaskTraits)
	Pop() (WorkItem, bool)
	PeekTraits() (TaskTraits, bool)
	Len() int
	IsEmpty() bool
	Clear()
}

// =============================================================================
// FIFOTaskQueue: slice-backed FIFO with periodic compaction
// =============================================================================

type FIFOTaskQueue struct {
	mu    sync.Mutex
	items []WorkItem
}

func NewFIFOTaskQueue() *FIFOTaskQueue {
	return &FIFOTaskQueue{
		items: make([]WorkItem, 0, defaultQueueCap),
	}
}

func (q *FIFOTaskQueue) Push(r Runnable, traits TaskTraits) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, WorkItem{Run: r, Traits: traits})
}

func (q *FIFOTaskQueue) Pop() (WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return WorkItem{}, false
	}

	item := q.items[0]
	// Drop the closure reference held by the backing array
	q.items[0] = WorkItem{}
	q.items = q.items[1:]
	q.maybeCompactLocked()

	return item, true
}

func (q *FIFOTaskQueue) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]WorkItem, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	compacted := make([]WorkItem, n, newCap)
	copy(compacted, q.items)
	q.items = compacted
}

func (q *FIFOTaskQueue) PeekTraits() (TaskTraits, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return TaskTraits{}, false
	}
	return q.items[0].Traits, true
}

func (q *FIFOTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *FIFOTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear removes all queued work and releases references
func (q *FIFOTaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]WorkItem, 0, defaultQueueCap)
}

// =============================================================================
// PriorityTaskQueue: heap ordered by priority, FIFO within a priority
// =============================================================================

type priorityItem struct {
	WorkItem
	sequence uint64
	index    int
}

type priorityHeap []*priorityItem

func (h priorityHeap) Len() int { return len(h) }

// Less puts the highest priority first, then the smallest sequence (FIFO)
func (h priorityHeap) Less(i, j int) bool {
	if h[i].Traits.Priority != h[j].Traits.Priority {
		return h[i].Traits.Priority > h[j].Traits.Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*priorityItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

type PriorityTaskQueue struct {
	mu           sync.Mutex
	pq           priorityHeap
	nextSequence uint64
}

func NewPriorityTaskQueue() *PriorityTaskQueue {
	return &PriorityTaskQueue{
		pq: make(priorityHeap, 0, defaultQueueCap),
	}
}

func (q *PriorityTaskQueue) Push(r Runnable, traits TaskTraits) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.pq, &priorityItem{
		WorkItem: WorkItem{Run: r, Traits: traits},
		sequence: q.nextSequence,
	})
	q.nextSequence++
}

func (q *PriorityTaskQueue) Pop() (WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return WorkItem{}, false
	}
	return heap.Pop(&q.pq).(*priorityItem).WorkItem, true
}

func (q *PriorityTaskQueue) PeekTraits() (TaskTraits, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return TaskTraits{}, false
	}
	return q.pq[0].Traits, true
}

func (q *PriorityTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}

func (q *PriorityTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *PriorityTaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pq = make(priorityHeap, 0, defaultQueueCap)
	q.nextSequence = 0
}
