package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Ambient context keys. A task body receives a context carrying its own task, the
// manager running it, and the nearest queueing composite.
type ctxKey int

const (
	currentTaskKey ctxKey = iota
	managerKey
	compositeKey
	scheduledKey
)

// CurrentTask returns the task whose body is executing in ctx, or nil.
func CurrentTask(ctx context.Context) Task {
	if ctx == nil {
		return nil
	}
	if t, ok := ctx.Value(currentTaskKey).(Task); ok && t != nil {
		return t
	}
	return nil
}

// CurrentManager returns the manager running the current task, or nil.
func CurrentManager(ctx context.Context) *ExecutionManager {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(managerKey).(*ExecutionManager)
	return m
}

// CurrentComposite returns the composite that QueueTask would append to, or nil.
func CurrentComposite(ctx context.Context) *DynamicSequentialTask {
	if ctx == nil {
		return nil
	}
	d, _ := ctx.Value(compositeKey).(*DynamicSequentialTask)
	return d
}

// CurrentScheduledTask returns the scheduled task driving the current iteration, or nil.
func CurrentScheduledTask(ctx context.Context) *ScheduledTask {
	if ctx == nil {
		return nil
	}
	st, _ := ctx.Value(scheduledKey).(*ScheduledTask)
	return st
}

// WithCurrentTask binds t as the ambient task of ctx. Submissions made with the
// returned context are attributed to t.
func WithCurrentTask(ctx context.Context, t Task) context.Context {
	return context.WithValue(ctx, currentTaskKey, t)
}

func withManager(ctx context.Context, m *ExecutionManager) context.Context {
	return context.WithValue(ctx, managerKey, m)
}

func withComposite(ctx context.Context, d *DynamicSequentialTask) context.Context {
	return context.WithValue(ctx, compositeKey, d)
}

func withScheduled(ctx context.Context, st *ScheduledTask) context.Context {
	return context.WithValue(ctx, scheduledKey, st)
}

// =============================================================================
// Queueing
// =============================================================================

// QueueTask appends t to the nearest enclosing composite.
func QueueTask(ctx context.Context, t Task) error {
	d := CurrentComposite(ctx)
	if d == nil {
		return errors.Wrapf(ErrNoQueueingContext, "queueing %q", t.DisplayName())
	}
	return d.Queue(t)
}

// QueueIfPossible queues t when a composite is in scope and reports whether it did.
func QueueIfPossible(ctx context.Context, t Task) bool {
	d := CurrentComposite(ctx)
	if d == nil {
		return false
	}
	return d.Queue(t) == nil
}

// =============================================================================
// Blocking details
// =============================================================================

// SetBlockingDetails publishes what the current task is waiting on and returns the
// previous description. It is a no-op outside a task body.
func SetBlockingDetails(ctx context.Context, details string) string {
	t := CurrentTask(ctx)
	if t == nil {
		return ""
	}
	return t.base().setBlockingDetails(details)
}

// ResetBlockingDetails clears the published description.
func ResetBlockingDetails(ctx context.Context) {
	SetBlockingDetails(ctx, "")
}

// =============================================================================
// Interruptible waits
// =============================================================================

// Interrupted returns the interruption cause if the current body was cancelled, else nil.
func Interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return interruptCause(ctx)
}

// Sleep pauses for d unless the body is interrupted first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return Interrupted(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return interruptCause(ctx)
	}
}

// WaitFor blocks until ch is closed or yields a value, unless the body is
// interrupted first.
func WaitFor[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, interruptCause(ctx)
	}
}

// interruptCause converts a done context into an error matching ErrInterrupted.
func interruptCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrInterrupted) {
		return cause
	}
	return &interruptedError{mode: InterruptTaskButNotSubmittedTasks, cause: cause}
}
