package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// newTestManager starts a manager on a fresh FIFO pool and shuts it down with the test.
func newTestManager(t *testing.T, workers int, opts ...ManagerOption) *ExecutionManager {
	t.Helper()
	pool := NewGoroutineThreadPool(t.Name(), workers)
	opts = append([]ManagerOption{WithLogger(NewNoOpLogger())}, opts...)
	m := NewExecutionManager(pool, opts...)
	m.Start(context.Background())
	t.Cleanup(func() { m.ShutdownNow() })
	return m
}

// mustSubmit submits task with a background context and fails the test on error.
func mustSubmit(t *testing.T, m *ExecutionManager, task Task, tags ...Tag) Task {
	t.Helper()
	if _, err := m.Submit(context.Background(), task, tags...); err != nil {
		t.Fatalf("Submit(%s) error = %v", task.DisplayName(), err)
	}
	return task
}

// waitDone waits for task to reach a terminal state.
func waitDone(t *testing.T, task Task, timeout time.Duration) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(timeout):
		t.Fatalf("task %s not done after %v (state %s)", task.DisplayName(), timeout, task.State())
	}
}

// eventRecorder collects labels from concurrently running bodies.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// recordingTask returns a body that records name and returns it.
func (r *eventRecorder) recordingTask(name string) TaskFunc {
	return func(ctx context.Context) (any, error) {
		r.add(name)
		return name, nil
	}
}

// eventually polls cond until it holds or timeout passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf(format, args...)
	}
}
