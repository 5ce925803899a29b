package core

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrCancelled is reported by Get on a task that ended in the CANCELLED state.
	ErrCancelled = errors.New("task cancelled")

	// ErrInterrupted is the cancellation cause delivered to a running body whose
	// task was cancelled with an interrupting mode.
	ErrInterrupted = errors.New("task interrupted")

	// ErrRejected is returned when the worker pool refuses a task, usually during shutdown.
	ErrRejected = errors.New("task rejected")

	// ErrTimeout is returned by GetWithTimeout when the deadline passes first.
	ErrTimeout = errors.New("timed out waiting for task")

	// ErrAlreadyEnded is returned when adding a child to a composite that has finished.
	ErrAlreadyEnded = errors.New("composite task already ended")

	// ErrNoQueueingContext is returned by QueueTask outside of a composite task.
	ErrNoQueueingContext = errors.New("no queueing context available")

	// ErrAlreadySubmitted is returned when a task is submitted to a second manager.
	ErrAlreadySubmitted = errors.New("task already submitted to another manager")

	// ErrInvalidTag is returned for tags that cannot be used as index keys.
	ErrInvalidTag = errors.New("tag is not comparable")

	// ErrManagerClosed is returned by Submit after the manager shut down. It is a
	// rejection, so it also matches ErrRejected.
	ErrManagerClosed = errors.WithMessage(ErrRejected, "execution manager is shut down")
)

// PanicError records a panic recovered from a task body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// ChildFailedError is the failure of a composite caused by one of its children.
type ChildFailedError struct {
	Child Task
	Err   error
}

func (e *ChildFailedError) Error() string {
	name := "<unknown>"
	if e.Child != nil {
		name = e.Child.DisplayName()
	}
	return fmt.Sprintf("child task %q failed: %v", name, e.Err)
}

func (e *ChildFailedError) Unwrap() error { return e.Err }

// interruptedError is the cancel cause installed on a running task's context.
// It matches ErrInterrupted and, through Unwrap, ErrCancelled.
// A non-nil cause is the context error that stopped a wait outside a task cancellation.
type interruptedError struct {
	mode  CancelMode
	cause error
}

func (e *interruptedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", ErrInterrupted.Error(), e.cause)
	}
	return fmt.Sprintf("%s (%s)", ErrInterrupted.Error(), e.mode)
}

func (e *interruptedError) Is(target error) bool {
	return target == ErrInterrupted
}

func (e *interruptedError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrCancelled, e.cause}
	}
	return []error{ErrCancelled}
}

// IsInterrupted reports whether err is, or wraps, an interruption.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// IsCancellation reports whether err represents a cancellation of any kind.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrInterrupted)
}
