package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task body panics.
// The panic is also stored on the task as a *PanicError, so a handler never has to
// rethrow it.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The ambient context of the panicked task
	// - source: The manager (or pool) name where the panic occurred
	// - task: The task whose body panicked, nil for bare pool work
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, source string, task Task, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through a Logger (the package default when nil).
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, source string, task Task, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	fields := []Field{F("source", source), F("panic", panicInfo), F("stack", string(stackTrace))}
	if task != nil {
		fields = append(fields, F("task", task.DisplayName()), F("task_id", task.ID().Short()))
	}
	logger.Error("task panicked", fields...)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskSubmitted records that a manager accepted a task.
	RecordTaskSubmitted(managerName string, priority TaskPriority)

	// RecordTaskDuration records how long a task took from begin to its terminal state.
	//
	// Parameters:
	// - managerName: The name of the execution manager
	// - priority: The task priority
	// - outcome: The terminal state the task reached
	// - duration: Time spent between BEGUN and the terminal state
	RecordTaskDuration(managerName string, priority TaskPriority, outcome TaskState, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(managerName string, panicInfo any)

	// RecordQueueDepth records the number of runnables waiting for a worker.
	RecordQueueDepth(managerName string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., during shutdown).
	RecordTaskRejected(managerName string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskSubmitted(managerName string, priority TaskPriority) {}

func (m *NilMetrics) RecordTaskDuration(managerName string, priority TaskPriority, outcome TaskState, duration time.Duration) {
}

func (m *NilMetrics) RecordTaskPanic(managerName string, panicInfo any) {}

func (m *NilMetrics) RecordQueueDepth(managerName string, depth int) {}

func (m *NilMetrics) RecordTaskRejected(managerName string, reason string) {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a submission is refused.
// This can happen when:
// - The manager has been shut down
// - The worker pool stopped accepting work
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	// HandleRejectedTask is called when a task is rejected.
	//
	// Parameters:
	// - source: The manager (or pool) name
	// - task: The rejected task, nil for bare pool work
	// - reason: Why the task was rejected (e.g., "shutdown")
	HandleRejectedTask(source string, task Task, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(source string, task Task, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	fields := []Field{F("source", source), F("reason", reason)}
	if task != nil {
		fields = append(fields, F("task", task.DisplayName()))
	}
	logger.Warn("task rejected", fields...)
}

// =============================================================================
// TaskLifecycleHook: tracing and auditing integration
// =============================================================================

// TaskLifecycleHook observes task transitions. OnTaskBegin runs on the worker right
// before the body and may return a derived context (a tracing span, for example) that
// the body then receives.
type TaskLifecycleHook interface {
	OnTaskSubmitted(ctx context.Context, task Task)
	OnTaskBegin(ctx context.Context, task Task) context.Context
	OnTaskEnd(task Task)
}

// =============================================================================
// TaskSchedulerConfig: Configuration for TaskScheduler
// =============================================================================

// TaskSchedulerConfig holds configuration options for TaskScheduler.
// All handlers are optional; if not provided, default implementations will be used.
type TaskSchedulerConfig struct {
	// PanicHandler is called when bare pool work panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics receives queue depth and rejection events. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when work is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler
}

// DefaultTaskSchedulerConfig returns a config with default handlers.
func DefaultTaskSchedulerConfig() *TaskSchedulerConfig {
	return &TaskSchedulerConfig{
		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
	}
}
