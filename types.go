package taskengine

import "github.com/Swind/go-task-engine/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the taskengine package for most use cases.

// Task is a unit of work tracked by an execution manager
type Task = core.Task

// TaskFunc is the body of a task
type TaskFunc = core.TaskFunc

// TaskOption configures a task at construction
type TaskOption = core.TaskOption

// TaskState is the lifecycle state of a task
type TaskState = core.TaskState

// TaskID identifies a task
type TaskID = core.TaskID

// Tag labels a task for lookup
type Tag = core.Tag

// CancelMode selects how far a cancellation reaches
type CancelMode = core.CancelMode

// TaskTraits defines task attributes (priority)
type TaskTraits = core.TaskTraits

// TaskPriority defines the priority levels for tasks
type TaskPriority = core.TaskPriority

// ExecutionManager owns submitted tasks and the pool that runs them
type ExecutionManager = core.ExecutionManager

// ManagerOption configures an ExecutionManager
type ManagerOption = core.ManagerOption

// Composite and periodic task kinds
type (
	BasicTask             = core.BasicTask
	DynamicSequentialTask = core.DynamicSequentialTask
	ParallelTask          = core.ParallelTask
	ScheduledTask         = core.ScheduledTask
)

// Priority constants
const (
	TaskPriorityBestEffort   TaskPriority = core.TaskPriorityBestEffort
	TaskPriorityUserVisible  TaskPriority = core.TaskPriorityUserVisible
	TaskPriorityUserBlocking TaskPriority = core.TaskPriorityUserBlocking
)

// Cancel modes
const (
	DoNotInterrupt                          = core.DoNotInterrupt
	InterruptTaskButNotSubmittedTasks       = core.InterruptTaskButNotSubmittedTasks
	InterruptTaskAndDependentSubmittedTasks = core.InterruptTaskAndDependentSubmittedTasks
	InterruptTaskAndAllSubmittedTasks       = core.InterruptTaskAndAllSubmittedTasks
)

// Well-known tags
const (
	TagTransient    = core.TagTransient
	TagNonTransient = core.TagNonTransient
	TagInessential  = core.TagInessential
	TagEffectorCall = core.TagEffectorCall
	TagSubTask      = core.TagSubTask
)

// Constructors and options
var (
	NewTask                  = core.NewTask
	NewDynamicSequentialTask = core.NewDynamicSequentialTask
	NewParallelTask          = core.NewParallelTask
	NewScheduledTask         = core.NewScheduledTask
	ScheduleFunc             = core.ScheduleFunc

	WithName                    = core.WithName
	WithDescription             = core.WithDescription
	WithTags                    = core.WithTags
	WithPriority                = core.WithPriority
	Transient                   = core.Transient
	Inessential                 = core.Inessential
	WithChildren                = core.WithChildren
	WithSwallowChildrenFailures = core.WithSwallowChildrenFailures
	WithDelay                   = core.WithDelay
	WithPeriod                  = core.WithPeriod
	WithMaxIterations           = core.WithMaxIterations
	WithCancelOnException       = core.WithCancelOnException

	TargetEntity       = core.TargetEntity
	CancelModeFromBool = core.CancelModeFromBool
)

// Ambient context helpers
var (
	CurrentTask          = core.CurrentTask
	CurrentManager       = core.CurrentManager
	CurrentComposite     = core.CurrentComposite
	CurrentScheduledTask = core.CurrentScheduledTask
	QueueTask            = core.QueueTask
	QueueIfPossible      = core.QueueIfPossible
	Sleep                = core.Sleep
	Interrupted          = core.Interrupted
	SetBlockingDetails   = core.SetBlockingDetails
	ResetBlockingDetails = core.ResetBlockingDetails
)

// Convenience functions for creating TaskTraits
var (
	DefaultTaskTraits  = core.DefaultTaskTraits
	TraitsUserBlocking = core.TraitsUserBlocking
	TraitsBestEffort   = core.TraitsBestEffort
	TraitsUserVisible  = core.TraitsUserVisible
)
