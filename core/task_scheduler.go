package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// TaskScheduler is the work source behind a GoroutineThreadPool: a ready queue, a
// wake-up signal for idle workers, and a DelayManager for delayed posts.
type TaskScheduler struct {
	name        string
	queue       TaskQueue
	signal      chan struct{}
	workerCount int

	delayManager *DelayManager

	metricQueued int32 // Waiting in the ready queue
	metricActive int32 // Executing in a worker

	// Unset handlers fall back to the defaults until an owning manager supplies its own.
	handlersMu          sync.RWMutex
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler

	shuttingDown int32 // atomic flag
}

func NewPriorityTaskScheduler(workerCount int) *TaskScheduler {
	return NewPriorityTaskSchedulerWithConfig(workerCount, nil)
}

func NewPriorityTaskSchedulerWithConfig(workerCount int, config *TaskSchedulerConfig) *TaskScheduler {
	return newTaskScheduler(workerCount, NewPriorityTaskQueue(), config)
}

func NewFIFOTaskScheduler(workerCount int) *TaskScheduler {
	return NewFIFOTaskSchedulerWithConfig(workerCount, nil)
}

func NewFIFOTaskSchedulerWithConfig(workerCount int, config *TaskSchedulerConfig) *TaskScheduler {
	return newTaskScheduler(workerCount, NewFIFOTaskQueue(), config)
}

func newTaskScheduler(workerCount int, queue TaskQueue, config *TaskSchedulerConfig) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	s := &TaskScheduler{
		name:        "TaskScheduler",
		queue:       queue,
		signal:      make(chan struct{}, workerCount*2),
		workerCount: workerCount,
	}
	s.delayManager = NewDelayManager(s.postExpired)

	if config != nil {
		s.panicHandler = config.PanicHandler
		s.metrics = config.Metrics
		s.rejectedTaskHandler = config.RejectedTaskHandler
	}
	return s
}

// adoptHandlers fills the handlers the scheduler was not configured with.
func (s *TaskScheduler) adoptHandlers(panicHandler PanicHandler, metrics Metrics, rejected RejectedTaskHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if s.panicHandler == nil {
		s.panicHandler = panicHandler
	}
	if s.metrics == nil {
		s.metrics = metrics
	}
	if s.rejectedTaskHandler == nil {
		s.rejectedTaskHandler = rejected
	}
}

// SetName labels the scheduler in metrics and handler callbacks.
func (s *TaskScheduler) SetName(name string) {
	if name != "" {
		s.name = name
	}
}

// PostInternal queues r for the next free worker. It fails with ErrRejected once
// the scheduler is shutting down; reporting the rejection is left to the caller.
func (s *TaskScheduler) PostInternal(r Runnable, traits TaskTraits) error {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		return errors.Wrapf(ErrRejected, "%s is shutting down", s.name)
	}

	s.queue.Push(r, traits)
	depth := atomic.AddInt32(&s.metricQueued, 1)
	s.GetMetrics().RecordQueueDepth(s.name, int(depth))

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full; the runnable is already queued
	}
	return nil
}

// PostDelayedInternal queues r after delay without holding a worker meanwhile. The
// returned handle can withdraw the work with RemoveDelayedInternal before it is due.
func (s *TaskScheduler) PostDelayedInternal(r Runnable, delay time.Duration, traits TaskTraits) (*DelayedWork, error) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		return nil, errors.Wrapf(ErrRejected, "%s is shutting down", s.name)
	}
	return s.delayManager.AddDelayed(r, delay, traits), nil
}

// RemoveDelayedInternal withdraws delayed work that has not come due yet.
func (s *TaskScheduler) RemoveDelayedInternal(w *DelayedWork) bool {
	return s.delayManager.Remove(w)
}

// postExpired hands due work to the ready queue. Nobody waits on this post, so a
// rejection is reported here.
func (s *TaskScheduler) postExpired(r Runnable, traits TaskTraits) error {
	err := s.PostInternal(r, traits)
	if err != nil {
		s.GetRejectedTaskHandler().HandleRejectedTask(s.name, nil, "shutting down")
		s.GetMetrics().RecordTaskRejected(s.name, "shutting down")
	}
	return err
}

// GetWork blocks until a runnable is available or stopCh closes (Called by Worker)
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (Runnable, bool) {
	for {
		if item, ok := s.queue.Pop(); ok {
			atomic.AddInt32(&s.metricQueued, -1)
			return item.Run, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// wake nudges one idle worker, e.g. after the worker set changed.
func (s *TaskScheduler) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *TaskScheduler) Shutdown() {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.delayManager.Stop()
	s.queue.Clear()
	atomic.StoreInt32(&s.metricQueued, 0)
}

// ShutdownGraceful stops accepting work and waits for queued and active work to finish.
// Returns an error if timeout is exceeded first; remaining queued work is then dropped.
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) error {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.delayManager.Stop()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			s.queue.Clear()
			atomic.StoreInt32(&s.metricQueued, 0)
			return errors.Errorf("graceful shutdown of %s timed out after %v", s.name, timeout)
		case <-ticker.C:
			if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
				return nil
			}
		}
	}
}

func (s *TaskScheduler) IsShuttingDown() bool {
	return atomic.LoadInt32(&s.shuttingDown) == 1
}

func (s *TaskScheduler) WorkerCount() int     { return s.workerCount }
func (s *TaskScheduler) QueuedTaskCount() int { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *TaskScheduler) ActiveTaskCount() int { return int(atomic.LoadInt32(&s.metricActive)) }
func (s *TaskScheduler) DelayedTaskCount() int {
	return s.delayManager.TaskCount()
}

func (s *TaskScheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *TaskScheduler) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}

func (s *TaskScheduler) GetPanicHandler() PanicHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	if s.panicHandler == nil {
		return &DefaultPanicHandler{}
	}
	return s.panicHandler
}

func (s *TaskScheduler) GetMetrics() Metrics {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	if s.metrics == nil {
		return &NilMetrics{}
	}
	return s.metrics
}

func (s *TaskScheduler) GetRejectedTaskHandler() RejectedTaskHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	if s.rejectedTaskHandler == nil {
		return &DefaultRejectedTaskHandler{}
	}
	return s.rejectedTaskHandler
}
