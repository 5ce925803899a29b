package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ThreadPool is the worker pool an ExecutionManager runs task bodies on.
type ThreadPool interface {
	PostInternal(r Runnable, traits TaskTraits) error
	PostDelayedInternal(r Runnable, delay time.Duration, traits TaskTraits) (*DelayedWork, error)
	RemoveDelayedInternal(w *DelayedWork) bool

	Start(ctx context.Context)
	Stop()

	ID() string
	IsRunning() bool

	WorkerCount() int
	QueuedTaskCount() int
	ActiveTaskCount() int
	DelayedTaskCount() int
}

// BlockingCallTracker is implemented by pools that compensate for workers parked in
// a blocking wait. BeginBlockingCall returns the function that ends the call.
type BlockingCallTracker interface {
	BeginBlockingCall() (end func())
}

// GoroutineThreadPool manages a set of worker goroutines
// Responsible for pulling runnables from its TaskScheduler and executing them
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *TaskScheduler
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex

	nextWorkerID  int32
	compensating  int32
	retirePending int32
}

var _ ThreadPool = (*GoroutineThreadPool)(nil)
var _ BlockingCallTracker = (*GoroutineThreadPool)(nil)

// NewGoroutineThreadPool creates a FIFO pool.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithScheduler(id, NewFIFOTaskScheduler(workers))
}

// NewPriorityGoroutineThreadPool creates a pool that runs higher priorities first.
func NewPriorityGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithScheduler(id, NewPriorityTaskScheduler(workers))
}

// NewGoroutineThreadPoolWithScheduler creates a pool around a preconfigured scheduler.
func NewGoroutineThreadPoolWithScheduler(id string, scheduler *TaskScheduler) *GoroutineThreadPool {
	scheduler.SetName(id)
	return &GoroutineThreadPool{
		id:        id,
		workers:   scheduler.WorkerCount(),
		scheduler: scheduler,
	}
}

// Start starts all worker goroutines
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.spawnWorker()
	}
}

func (tg *GoroutineThreadPool) spawnWorker() {
	id := int(atomic.AddInt32(&tg.nextWorkerID, 1)) - 1
	tg.wg.Add(1)
	go tg.workerLoop(id, tg.ctx)
}

// Stop stops the thread pool, dropping queued work.
func (tg *GoroutineThreadPool) Stop() {
	// Always shutdown scheduler to clean up resources (queue, delayed work)
	// even if pool was never started
	tg.scheduler.Shutdown()

	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return
	}
	cancel := tg.cancel
	tg.runningMu.Unlock()

	if cancel != nil {
		cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
}

// StopGraceful waits for queued work to finish before stopping the workers.
// Returns error if timeout is exceeded before the queue drains
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		tg.scheduler.Shutdown()
		return nil
	}
	cancel := tg.cancel
	tg.runningMu.Unlock()

	err := tg.scheduler.ShutdownGraceful(timeout)

	if cancel != nil {
		cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()

	return err
}

func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

// BeginBlockingCall starts a compensating worker for as long as the caller is parked,
// so a body waiting on another task cannot starve the pool.
func (tg *GoroutineThreadPool) BeginBlockingCall() func() {
	tg.runningMu.RLock()
	if !tg.running || tg.ctx.Err() != nil {
		tg.runningMu.RUnlock()
		return func() {}
	}
	atomic.AddInt32(&tg.compensating, 1)
	tg.spawnWorker()
	tg.runningMu.RUnlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			atomic.AddInt32(&tg.compensating, -1)
			atomic.AddInt32(&tg.retirePending, 1)
			tg.scheduler.wake()
		})
	}
}

func (tg *GoroutineThreadPool) tryRetire() bool {
	for {
		n := atomic.LoadInt32(&tg.retirePending)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&tg.retirePending, n, n-1) {
			return true
		}
	}
}

// workerLoop is the main loop for each worker
func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		if tg.tryRetire() {
			return
		}

		run, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			return
		}

		tg.scheduler.OnTaskStart()
		func() {
			defer func() {
				tg.scheduler.OnTaskEnd()
				if r := recover(); r != nil {
					tg.scheduler.GetMetrics().RecordTaskPanic(tg.id, r)
					tg.scheduler.GetPanicHandler().HandlePanic(ctx, fmt.Sprintf("%s/worker-%d", tg.id, id), nil, r, debug.Stack())
				}
			}()
			run(ctx)
		}()
	}
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// WorkerCount returns the configured number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.scheduler.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.scheduler.ActiveTaskCount()
}

func (tg *GoroutineThreadPool) DelayedTaskCount() int {
	return tg.scheduler.DelayedTaskCount()
}

// CompensatingWorkerCount is the number of extra workers covering blocked callers.
func (tg *GoroutineThreadPool) CompensatingWorkerCount() int {
	return int(atomic.LoadInt32(&tg.compensating))
}

func (tg *GoroutineThreadPool) PostInternal(r Runnable, traits TaskTraits) error {
	return tg.scheduler.PostInternal(r, traits)
}

func (tg *GoroutineThreadPool) PostDelayedInternal(r Runnable, delay time.Duration, traits TaskTraits) (*DelayedWork, error) {
	return tg.scheduler.PostDelayedInternal(r, delay, traits)
}

func (tg *GoroutineThreadPool) RemoveDelayedInternal(w *DelayedWork) bool {
	return tg.scheduler.RemoveDelayedInternal(w)
}

func (tg *GoroutineThreadPool) adoptHandlers(panicHandler PanicHandler, metrics Metrics, rejected RejectedTaskHandler) {
	tg.scheduler.adoptHandlers(panicHandler, metrics, rejected)
}

// Stats returns a point-in-time snapshot of the pool.
func (tg *GoroutineThreadPool) Stats() PoolStats {
	return PoolStats{
		ID:           tg.id,
		Workers:      tg.workers,
		Compensating: tg.CompensatingWorkerCount(),
		Queued:       tg.QueuedTaskCount(),
		Active:       tg.ActiveTaskCount(),
		Delayed:      tg.DelayedTaskCount(),
		Running:      tg.IsRunning(),
	}
}
