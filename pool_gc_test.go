package taskengine_test

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	taskengine "github.com/Swind/go-task-engine"
	"github.com/Swind/go-task-engine/core"
)

// TestManager_GC_PoolReleasedAfterShutdown tests the pool is collected once its manager is dropped
// Given: a manager that has run tasks
// When: it is shut down and references are dropped
// Then: its thread pool is garbage collected
func TestManager_GC_PoolReleasedAfterShutdown(t *testing.T) {
	// Arrange
	var poolFinalized atomic.Bool

	pool := core.NewGoroutineThreadPool("gc-pool", 2)
	m := core.NewExecutionManager(pool, core.WithLogger(core.NewNoOpLogger()))
	m.Start(context.Background())
	runtime.SetFinalizer(pool, func(p *core.GoroutineThreadPool) {
		poolFinalized.Store(true)
	})

	// Act
	for i := 0; i < 10; i++ {
		task, err := m.SubmitFunc(context.Background(), func(ctx context.Context) (any, error) {
			return nil, taskengine.Sleep(ctx, time.Millisecond)
		})
		if err != nil {
			t.Fatalf("SubmitFunc() error = %v", err)
		}
		task.GetWithTimeout(context.Background(), time.Second)
	}
	m.ShutdownNow()
	m = nil
	pool = nil

	for i := 0; i < 5; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	// Assert
	if !poolFinalized.Load() {
		t.Error("ThreadPool GC'd: got = false, want = true")
	}
}

// TestManager_GC_PendingScheduleDoesNotPinPool tests a delayed schedule doesn't prevent GC
// Given: a manager with a schedule whose first iteration is an hour away
// When: the manager is shut down
// Then: the iteration never runs and the pool is garbage collected
func TestManager_GC_PendingScheduleDoesNotPinPool(t *testing.T) {
	// Arrange
	var poolFinalized atomic.Bool
	var iterationRan atomic.Bool

	pool := core.NewGoroutineThreadPool("gc-delayed-pool", 2)
	m := core.NewExecutionManager(pool, core.WithLogger(core.NewNoOpLogger()))
	m.Start(context.Background())
	runtime.SetFinalizer(pool, func(p *core.GoroutineThreadPool) {
		poolFinalized.Store(true)
	})

	st := taskengine.ScheduleFunc(func(ctx context.Context) (any, error) {
		iterationRan.Store(true)
		return nil, nil
	}, []taskengine.TaskOption{taskengine.WithDelay(time.Hour)})
	if _, err := m.Submit(context.Background(), st); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	// Act
	m.ShutdownNow()
	m = nil
	pool = nil
	st = nil

	for i := 0; i < 5; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	// Assert
	if iterationRan.Load() {
		t.Error("iteration ran: got = true, want = false (cancelled)")
	}
	if !poolFinalized.Load() {
		t.Error("ThreadPool GC'd: got = false, want = true (possible leak in DelayManager)")
	}
}
