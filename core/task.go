package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Runnable is the unit of work executed by a pool worker (Closure).
type Runnable func(ctx context.Context)

// TaskFunc is the body of a Task. The returned value is stored as the task result,
// the returned error as its failure cause.
type TaskFunc func(ctx context.Context) (any, error)

// TaskFactory manufactures a fresh Task. Scheduled tasks call it once per iteration.
type TaskFactory func() Task

// =============================================================================
// TaskTraits: Define task attributes (priority, blocking behavior, etc.)
// =============================================================================

type TaskPriority int

const (
	// TaskPriorityBestEffort: Lowest priority
	TaskPriorityBestEffort TaskPriority = iota

	// TaskPriorityUserVisible: Default priority
	TaskPriorityUserVisible

	// TaskPriorityUserBlocking: Highest priority
	// Used for work somebody is actively waiting on, e.g. an effector invocation
	// issued from an interactive client.
	TaskPriorityUserBlocking
)

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityBestEffort:
		return "best_effort"
	case TaskPriorityUserVisible:
		return "user_visible"
	case TaskPriorityUserBlocking:
		return "user_blocking"
	default:
		return fmt.Sprintf("TaskPriority(%d)", int(p))
	}
}

type TaskTraits struct {
	Priority TaskPriority
	Category string
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

func TraitsUserBlocking() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserBlocking}
}

func TraitsBestEffort() TaskTraits {
	return TaskTraits{Priority: TaskPriorityBestEffort}
}

func TraitsUserVisible() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

// =============================================================================
// Task identity and state
// =============================================================================

// TaskID uniquely identifies a task within the process.
type TaskID uuid.UUID

// GenerateTaskID returns a new random TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

func (id TaskID) IsZero() bool {
	return id == TaskID{}
}

// Short returns the first 8 characters of the id, enough for log lines.
func (id TaskID) Short() string {
	return id.String()[:8]
}

// TaskState is the lifecycle state of a task.
//
//	CREATED -> SUBMITTED -> BEGUN -> {SUCCEEDED | FAILED | CANCELLED}
//
// CANCELLED can also be reached directly from CREATED or SUBMITTED.
type TaskState int

const (
	TaskStateCreated TaskState = iota
	TaskStateSubmitted
	TaskStateBegun
	TaskStateSucceeded
	TaskStateFailed
	TaskStateCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskStateCreated:
		return "CREATED"
	case TaskStateSubmitted:
		return "SUBMITTED"
	case TaskStateBegun:
		return "BEGUN"
	case TaskStateSucceeded:
		return "SUCCEEDED"
	case TaskStateFailed:
		return "FAILED"
	case TaskStateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// IsTerminal reports whether the state is final.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// =============================================================================
// Task: the handle every task kind implements
// =============================================================================

// Task is a named, tagged, cancellable handle around a body of work.
//
// All task kinds live in this package: BasicTask, DynamicSequentialTask,
// ParallelTask and ScheduledTask. Tasks are submitted through an ExecutionManager.
type Task interface {
	ID() TaskID
	DisplayName() string
	Description() string
	Tags() []Tag
	HasTag(tag Tag) bool
	Traits() TaskTraits

	State() TaskState
	SubmitTime() time.Time
	StartTime() time.Time
	// EndTime is the zero time until the task is done.
	EndTime() time.Time

	IsSubmitted() bool
	IsBegun() bool
	IsDone() bool
	IsError() bool
	IsCancelled() bool

	// Get blocks until the task is done and returns its result or its failure.
	// A cancelled task returns an error matching ErrCancelled.
	Get(ctx context.Context) (any, error)
	// GetWithTimeout is Get bounded by timeout; on expiry it returns ErrTimeout and
	// leaves the task untouched. Called from a task body, ctx should be the body's
	// context so the wait is interruptible and counts as a blocking call.
	GetWithTimeout(ctx context.Context, timeout time.Duration) (any, error)
	// BlockUntilEnded waits for a terminal state without inspecting the outcome.
	BlockUntilEnded(ctx context.Context) error
	// Done is closed when the task reaches a terminal state.
	Done() <-chan struct{}
	// Err returns the stored failure cause (nil while running or on success).
	Err() error
	// Result returns the stored result (nil unless succeeded).
	Result() any

	// Cancel transitions the task to CANCELLED. It reports false if the task was already done.
	Cancel(mode CancelMode) bool

	Parent() Task
	SubmittedBy() Task
	Children() []Task
	SubmittedTasks() []Task

	BlockingDetails() string
	BlockingTask() Task
	StatusDetail(multiline bool) string

	base() *taskBase
	launch(ctx context.Context, m *ExecutionManager) error
	onCancel(mode CancelMode)
}
