package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// TestTaskID_StringAndIsZero verifies TaskID formatting helpers
// Given: A zero TaskID and a generated one
// When: String, Short and IsZero are called
// Then: The zero id reports zero and the generated one has a 36-char UUID form
func TestTaskID_StringAndIsZero(t *testing.T) {
	// Arrange
	var zero TaskID
	id := GenerateTaskID()

	// Assert
	if !zero.IsZero() {
		t.Error("zero.IsZero() = false, want true")
	}
	if id.IsZero() {
		t.Error("GenerateTaskID().IsZero() = true, want false")
	}
	if got := len(id.String()); got != 36 {
		t.Errorf("len(id.String()) = %d, want 36", got)
	}
	if !strings.HasPrefix(id.String(), id.Short()) || len(id.Short()) != 8 {
		t.Errorf("Short() = %q, want 8-char prefix of %q", id.Short(), id.String())
	}
}

// TestTaskState_IsTerminal verifies only the three end states are terminal
func TestTaskState_IsTerminal(t *testing.T) {
	tests := []struct {
		state TaskState
		want  bool
	}{
		{TaskStateCreated, false},
		{TaskStateSubmitted, false},
		{TaskStateBegun, false},
		{TaskStateSucceeded, true},
		{TaskStateFailed, true},
		{TaskStateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

// TestBasicTask_Result verifies a successful body moves through every state
// Given: A task whose body returns 42
// When: It is submitted and awaited with Get
// Then: Get returns 42 and the timestamps are ordered
func TestBasicTask_Result(t *testing.T) {
	// Arrange
	m := newTestManager(t, 2)
	task := NewTask(func(ctx context.Context) (any, error) { return 42, nil }, WithName("answer"))
	if task.State() != TaskStateCreated || task.IsSubmitted() {
		t.Fatalf("new task state = %s, want CREATED", task.State())
	}

	// Act
	mustSubmit(t, m, task)
	got, err := task.Get(context.Background())

	// Assert
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Get() = %v, want 42", got)
	}
	if task.State() != TaskStateSucceeded || task.IsError() || task.IsCancelled() {
		t.Errorf("state = %s, want SUCCEEDED", task.State())
	}
	sub, start, end := task.SubmitTime(), task.StartTime(), task.EndTime()
	if sub.IsZero() || start.Before(sub) || end.Before(start) {
		t.Errorf("times out of order: submitted %v, started %v, ended %v", sub, start, end)
	}
}

// TestBasicTask_Failure verifies an error from the body fails the task
// Given: A body returning an error
// When: The task ends
// Then: Get returns that error and IsError is true
func TestBasicTask_Failure(t *testing.T) {
	// Arrange
	m := newTestManager(t, 1)
	boom := errors.New("boom")
	task := NewTask(func(ctx context.Context) (any, error) { return nil, boom })

	// Act
	mustSubmit(t, m, task)
	_, err := task.Get(context.Background())

	// Assert
	if !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want boom", err)
	}
	if !task.IsError() || task.IsCancelled() {
		t.Errorf("state = %s, want FAILED", task.State())
	}
	if !strings.HasPrefix(task.StatusDetail(false), "Failed: boom") {
		t.Errorf("StatusDetail(false) = %q, want prefix %q", task.StatusDetail(false), "Failed: boom")
	}
}

// TestBasicTask_PanicBecomesFailure verifies a panicking body fails with a PanicError
// Given: A body that panics and a test panic handler
// When: The task ends
// Then: Get returns *PanicError carrying the value and the handler saw the task
func TestBasicTask_PanicBecomesFailure(t *testing.T) {
	// Arrange
	handler := NewTestPanicHandler()
	metrics := NewTestMetrics()
	m := newTestManager(t, 1, WithPanicHandler(handler), WithMetrics(metrics))
	task := NewTask(func(ctx context.Context) (any, error) { panic("kaboom") }, WithName("panicky"))

	// Act
	mustSubmit(t, m, task)
	_, err := task.Get(context.Background())

	// Assert
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Get() error = %v, want *PanicError", err)
	}
	if pe.Value != "kaboom" || len(pe.Stack) == 0 {
		t.Errorf("PanicError = {%v, %d bytes}, want kaboom with stack", pe.Value, len(pe.Stack))
	}
	calls := handler.GetCalls()
	if len(calls) != 1 || calls[0].Task != task {
		t.Errorf("panic handler calls = %+v, want one for the task", calls)
	}
	if !strings.Contains(task.StatusDetail(true), "kaboom") {
		t.Errorf("StatusDetail(true) missing panic value: %q", task.StatusDetail(true))
	}
	if len(metrics.GetTaskPanics()) != 1 {
		t.Errorf("panic metrics = %d, want 1", len(metrics.GetTaskPanics()))
	}
}

// TestBasicTask_GetWithTimeout verifies a timed wait fails without cancelling
// Given: A task blocked until released
// When: GetWithTimeout(20ms) is called
// Then: It returns ErrTimeout, the task is still running, and completes after release
func TestBasicTask_GetWithTimeout(t *testing.T) {
	// Arrange
	m := newTestManager(t, 1)
	release := make(chan struct{})
	task := NewTask(func(ctx context.Context) (any, error) {
		<-release
		return "late", nil
	})
	mustSubmit(t, m, task)

	// Act
	_, err := task.GetWithTimeout(context.Background(), 20 * time.Millisecond)

	// Assert
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("GetWithTimeout() error = %v, want ErrTimeout", err)
	}
	if task.IsDone() {
		t.Error("task done after timed-out wait, want still running")
	}
	close(release)
	got, err := task.GetWithTimeout(context.Background(), time.Second)
	if err != nil || got != "late" {
		t.Errorf("GetWithTimeout() = (%v, %v), want (late, nil)", got, err)
	}
}

// TestBasicTask_GetWithTimeout_FromBody verifies a timed wait inside a body is a blocking call
// Given: A single-worker manager and a body that submits a child and waits on it with a timeout
// When: The body runs
// Then: The child gets a compensating worker, the wait returns its result, and the
// awaited child is published as the blocking task meanwhile
func TestBasicTask_GetWithTimeout_FromBody(t *testing.T) {
	// Arrange
	m := newTestManager(t, 1)
	release := make(chan struct{})
	child := NewTask(func(ctx context.Context) (any, error) {
		<-release
		return "child", nil
	}, WithName("child"))
	parent := NewTask(func(ctx context.Context) (any, error) {
		if _, err := CurrentManager(ctx).Submit(ctx, child); err != nil {
			return nil, err
		}
		return child.GetWithTimeout(ctx, 2*time.Second)
	}, WithName("parent"))

	// Act
	mustSubmit(t, m, parent)
	eventually(t, time.Second, func() bool { return child.IsBegun() },
		"child never began on a single-worker pool")
	blocking := parent.BlockingTask()
	close(release)
	got, err := parent.GetWithTimeout(context.Background(), 2*time.Second)

	// Assert
	if err != nil || got != "child" {
		t.Fatalf("parent = (%v, %v), want (child, nil)", got, err)
	}
	if blocking != child {
		t.Errorf("BlockingTask() = %v, want child", blocking)
	}
	if parent.BlockingTask() != nil {
		t.Errorf("BlockingTask() after wait = %v, want nil", parent.BlockingTask())
	}
}

// TestBasicTask_GetWithTimeout_Interrupted verifies an interrupting cancel wakes a timed wait
// Given: A body parked in GetWithTimeout(2s) on a task that never finishes by itself
// When: The waiting task is cancelled with InterruptTaskButNotSubmittedTasks
// Then: The wait returns promptly with an interruption, not a timeout
func TestBasicTask_GetWithTimeout_Interrupted(t *testing.T) {
	// Arrange
	m := newTestManager(t, 2)
	release := make(chan struct{})
	defer close(release)
	blocker := NewTask(func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}, WithName("blocker"))
	mustSubmit(t, m, blocker)

	waitErr := make(chan error, 1)
	outer := NewTask(func(ctx context.Context) (any, error) {
		_, err := blocker.GetWithTimeout(ctx, 2*time.Second)
		waitErr <- err
		return nil, err
	}, WithName("outer"))
	mustSubmit(t, m, outer)
	eventually(t, time.Second, func() bool { return outer.BlockingTask() == blocker },
		"outer never parked on blocker")

	// Act
	start := time.Now()
	outer.Cancel(InterruptTaskButNotSubmittedTasks)

	// Assert
	select {
	case err := <-waitErr:
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("wait returned after %v, want prompt return", elapsed)
		}
		if !errors.Is(err, ErrInterrupted) || !errors.Is(err, ErrCancelled) {
			t.Errorf("wait error = %v, want ErrInterrupted and ErrCancelled", err)
		}
		if errors.Is(err, ErrTimeout) {
			t.Errorf("wait error = %v, want no ErrTimeout", err)
		}
	case <-time.After(time.Second):
		t.Fatal("GetWithTimeout not woken by interrupt")
	}
	if blocker.IsDone() {
		t.Error("blocker ended, want it untouched by the caller's interrupt")
	}
}

// TestBasicTask_CancelDoNotInterrupt verifies the body keeps running after a soft cancel
// Given: A running task sleeping via Sleep
// When: Cancel(DoNotInterrupt) is called
// Then: The task is CANCELLED at once, Get reports ErrCancelled, and the body is not interrupted
func TestBasicTask_CancelDoNotInterrupt(t *testing.T) {
	// Arrange
	m := newTestManager(t, 1)
	started := make(chan struct{})
	sleepErr := make(chan error, 1)
	task := NewTask(func(ctx context.Context) (any, error) {
		close(started)
		err := Sleep(ctx, 50*time.Millisecond)
		sleepErr <- err
		return "ignored", err
	})
	mustSubmit(t, m, task)
	<-started

	// Act
	cancelled := task.Cancel(DoNotInterrupt)

	// Assert
	if !cancelled {
		t.Fatal("Cancel() = false, want true")
	}
	if !task.IsCancelled() || !task.IsDone() {
		t.Errorf("state = %s, want CANCELLED", task.State())
	}
	if _, err := task.Get(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("Get() error = %v, want ErrCancelled", err)
	}
	select {
	case err := <-sleepErr:
		if err != nil {
			t.Errorf("Sleep() = %v, want nil under DoNotInterrupt", err)
		}
	case <-time.After(time.Second):
		t.Fatal("body never finished")
	}
	if task.Result() != nil {
		t.Errorf("Result() = %v, want nil for a cancelled task", task.Result())
	}
}

// TestBasicTask_CancelInterrupts verifies an interrupting cancel stops a blocked body
// Given: A running task sleeping for a long time
// When: Cancel(InterruptTaskButNotSubmittedTasks) is called
// Then: Sleep returns an error matching ErrInterrupted promptly
func TestBasicTask_CancelInterrupts(t *testing.T) {
	// Arrange
	m := newTestManager(t, 1)
	started := make(chan struct{})
	sleepErr := make(chan error, 1)
	task := NewTask(func(ctx context.Context) (any, error) {
		close(started)
		err := Sleep(ctx, 10*time.Second)
		sleepErr <- err
		return nil, err
	})
	mustSubmit(t, m, task)
	<-started

	// Act
	task.Cancel(InterruptTaskButNotSubmittedTasks)

	// Assert
	select {
	case err := <-sleepErr:
		if !IsInterrupted(err) || !IsCancellation(err) {
			t.Errorf("Sleep() = %v, want interruption", err)
		}
	case <-time.After(time.Second):
		t.Fatal("body was not interrupted")
	}
	if task.State() != TaskStateCancelled {
		t.Errorf("state = %s, want CANCELLED", task.State())
	}
}

// TestBasicTask_CancelBeforeSubmit verifies a task cancelled early never runs
// Given: A task cancelled while CREATED
// When: It is submitted
// Then: Submit succeeds, the body never runs and the task stays CANCELLED
func TestBasicTask_CancelBeforeSubmit(t *testing.T) {
	// Arrange
	m := newTestManager(t, 1)
	ran := make(chan struct{}, 1)
	task := NewTask(func(ctx context.Context) (any, error) {
		ran <- struct{}{}
		return nil, nil
	})

	// Act
	task.Cancel(DoNotInterrupt)
	mustSubmit(t, m, task)

	// Assert
	select {
	case <-ran:
		t.Fatal("cancelled task ran")
	case <-time.After(30 * time.Millisecond):
	}
	if task.State() != TaskStateCancelled {
		t.Errorf("state = %s, want CANCELLED", task.State())
	}
	if task.Cancel(DoNotInterrupt) {
		t.Error("second Cancel() = true, want false")
	}
	if m.GetTask(task.ID()) != task {
		t.Error("cancelled task not registered with the manager")
	}
}

// TestBasicTask_OutcomeImmutable verifies the first terminal transition wins
// Given: A task that already succeeded
// When: Cancel is called
// Then: It returns false and the result is unchanged
func TestBasicTask_OutcomeImmutable(t *testing.T) {
	// Arrange
	m := newTestManager(t, 1)
	task := NewTask(func(ctx context.Context) (any, error) { return "done", nil })
	mustSubmit(t, m, task)
	waitDone(t, task, time.Second)

	// Act
	cancelled := task.Cancel(InterruptTaskAndAllSubmittedTasks)

	// Assert
	if cancelled {
		t.Error("Cancel() on a finished task = true, want false")
	}
	if got, err := task.Get(context.Background()); got != "done" || err != nil {
		t.Errorf("Get() = (%v, %v), want (done, nil)", got, err)
	}
}

// TestBasicTask_BlockingDetails verifies blocking details are published and cleared
// Given: A running task that sets blocking details and waits on another task
// When: Its status is read while it waits
// Then: The details and the blocking task appear, and are gone after completion
func TestBasicTask_BlockingDetails(t *testing.T) {
	// Arrange
	m := newTestManager(t, 2)
	release := make(chan struct{})
	blocker := NewTask(func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}, WithName("blocker"))
	waiter := NewTask(func(ctx context.Context) (any, error) {
		prev := SetBlockingDetails(ctx, "waiting for blocker")
		if prev != "" {
			return nil, errors.Errorf("previous details = %q", prev)
		}
		defer ResetBlockingDetails(ctx)
		return blocker.Get(ctx)
	}, WithName("waiter"))
	mustSubmit(t, m, blocker)
	mustSubmit(t, m, waiter)

	// Act
	eventually(t, time.Second, func() bool { return waiter.BlockingTask() == blocker },
		"waiter never reported blocking on blocker")
	status := waiter.StatusDetail(false)
	close(release)
	waitDone(t, waiter, time.Second)

	// Assert
	want := "In progress, waiting for blocker; waiting on blocker ("
	if !strings.HasPrefix(status, want) {
		t.Errorf("StatusDetail(false) = %q, want prefix %q", status, want)
	}
	if waiter.BlockingDetails() != "" || waiter.BlockingTask() != nil {
		t.Errorf("blocking state after completion = (%q, %v), want cleared", waiter.BlockingDetails(), waiter.BlockingTask())
	}
	if waiter.IsError() {
		t.Errorf("waiter failed: %v", waiter.Err())
	}
}

// TestBasicTask_DefaultName verifies tasks are named after their function
func TestBasicTask_DefaultName(t *testing.T) {
	task := NewTask(namedBody)
	if task.DisplayName() != "core.namedBody" {
		t.Errorf("DisplayName() = %q, want core.namedBody", task.DisplayName())
	}
	if got := NewTask(nil).DisplayName(); got != "anonymous" {
		t.Errorf("DisplayName() of nil body = %q, want anonymous", got)
	}
	if got := NewTask(namedBody, WithName("explicit")).DisplayName(); got != "explicit" {
		t.Errorf("DisplayName() = %q, want explicit", got)
	}
}

func namedBody(ctx context.Context) (any, error) { return nil, nil }

// TestBasicTask_AmbientContext verifies a body sees itself and its manager
func TestBasicTask_AmbientContext(t *testing.T) {
	// Arrange
	m := newTestManager(t, 1)
	var sawTask Task
	var sawManager *ExecutionManager
	task := NewTask(func(ctx context.Context) (any, error) {
		sawTask = CurrentTask(ctx)
		sawManager = CurrentManager(ctx)
		return nil, nil
	})

	// Act
	mustSubmit(t, m, task)
	waitDone(t, task, time.Second)

	// Assert
	if sawTask != task {
		t.Errorf("CurrentTask() = %v, want the task itself", sawTask)
	}
	if sawManager != m {
		t.Error("CurrentManager() is not the submitting manager")
	}
	if CurrentTask(context.Background()) != nil {
		t.Error("CurrentTask(background) != nil")
	}
}

// TestWaitFor verifies WaitFor returns values and honours interruption
func TestWaitFor(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if v, err := WaitFor(context.Background(), ch); v != 7 || err != nil {
		t.Errorf("WaitFor() = (%d, %v), want (7, nil)", v, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WaitFor(ctx, make(chan int)); !IsInterrupted(err) {
		t.Errorf("WaitFor(cancelled) error = %v, want interruption", err)
	}
}
