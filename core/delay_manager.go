package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// maxDelay caps delays so that "effectively infinite" periods do not overflow time arithmetic.
const maxDelay = 100 * 365 * 24 * time.Hour

// DelayedWork is a runnable waiting for its due time.
type DelayedWork struct {
	RunAt  time.Time
	Run    Runnable
	Traits TaskTraits
	index  int // for heap interface
}

// DelayedWorkHeap implements heap.Interface ordered by RunAt
type DelayedWorkHeap []*DelayedWork

func (h DelayedWorkHeap) Len() int           { return len(h) }
func (h DelayedWorkHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }
func (h DelayedWorkHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *DelayedWorkHeap) Push(x any) {
	item := x.(*DelayedWork)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *DelayedWorkHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *DelayedWorkHeap) Peek() *DelayedWork {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager holds delayed work in a min-heap and hands it to the sink when due.
// A single timer goroutine serves every delay, so waiting never occupies a worker.
type DelayManager struct {
	pq     DelayedWorkHeap
	mu     sync.Mutex
	wakeup chan struct{}
	sink   func(Runnable, TaskTraits) error
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDelayManager(sink func(Runnable, TaskTraits) error) *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(DelayedWorkHeap, 0),
		wakeup: make(chan struct{}, 1),
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// AddDelayed schedules r to be handed to the sink after delay and returns its handle.
func (dm *DelayManager) AddDelayed(r Runnable, delay time.Duration, traits TaskTraits) *DelayedWork {
	if delay < 0 {
		delay = 0
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := &DelayedWork{
		RunAt:  time.Now().Add(delay),
		Run:    r,
		Traits: traits,
	}
	heap.Push(&dm.pq, item)

	if item.index == 0 {
		dm.wake()
	}
	return item
}

// Remove withdraws w if it is still waiting. It reports whether w was removed.
func (dm *DelayManager) Remove(w *DelayedWork) bool {
	if w == nil {
		return false
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if w.index < 0 || w.index >= len(dm.pq) || dm.pq[w.index] != w {
		return false
	}
	wasFirst := w.index == 0
	heap.Remove(&dm.pq, w.index)
	if wasFirst {
		dm.wake()
	}
	return true
}

func (dm *DelayManager) wake() {
	select {
	case dm.wakeup <- struct{}{}:
	default:
	}
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		next, pending := dm.nextWait()
		if !pending {
			next = maxDelay
		}

		timer.Reset(next)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.processExpired()
		case <-dm.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// nextWait returns how long until the earliest item is due, and whether any item exists.
func (dm *DelayManager) nextWait() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return 0, false
	}

	wait := time.Until(item.RunAt)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// processExpired pops everything that is due and posts it outside the lock.
func (dm *DelayManager) processExpired() {
	dm.mu.Lock()

	now := time.Now()
	var expired []*DelayedWork
	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.RunAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}

	dm.mu.Unlock()

	for _, item := range expired {
		// A rejected post means the pool is shutting down; the work is dropped.
		_ = dm.sink(item.Run, item.Traits)
	}
}

func (dm *DelayManager) Stop() {
	dm.cancel()

	dm.mu.Lock()
	dm.pq = make(DelayedWorkHeap, 0)
	heap.Init(&dm.pq)
	dm.mu.Unlock()
}

func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
