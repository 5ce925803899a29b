// Package taskengine provides a management-plane task execution engine for Go.
//
// Work is expressed as tasks submitted to an ExecutionManager. The manager runs task
// bodies on a bounded pool of worker goroutines, records who submitted what, indexes
// tasks by tag and keeps a short execution history. Tasks can be composed into
// dynamic sequential composites, fanned out in parallel, or repeated on a schedule.
//
// # Quick Start
//
// Initialize the global execution manager at application startup:
//
//	taskengine.InitGlobalManager(4) // 4 workers
//	defer taskengine.ShutdownGlobalManager()
//
// Submit a task and wait for its result:
//
//	task, _ := taskengine.SubmitFunc(ctx, func(ctx context.Context) (any, error) {
//		return "hello", nil
//	})
//	result, err := task.Get(ctx)
//
// # Key Concepts
//
// Task: a unit of work with a state machine (NOT_SUBMITTED, SUBMITTED, BEGUN, then one
// of SUCCEEDED, FAILED or CANCELLED). A terminal task's outcome never changes.
//
// Ambient context: a task body receives a context from which CurrentTask,
// CurrentManager, CurrentComposite and CurrentScheduledTask recover the enclosing
// scope. Tasks submitted from inside a body are attributed to the running task.
//
// DynamicSequentialTask: runs its children strictly one after another while the
// primary body runs concurrently. Children can be appended while it runs with
// QueueTask. A failing essential child abandons the rest of the queue.
//
// ScheduledTask: runs a fresh task per iteration after an initial delay and then
// every period, until a maximum iteration count, a failure, or cancellation.
//
// CancelMode: cancellation never interrupts by default. The interrupting modes cancel
// the body's context and optionally reach the tasks the cancelled task submitted.
//
// # Example
//
//	import (
//		"context"
//		taskengine "github.com/Swind/go-task-engine"
//	)
//
//	func main() {
//		m := taskengine.NewManager("entities", 4)
//		defer m.ShutdownNow()
//
//		composite := taskengine.NewDynamicSequentialTask(nil,
//			taskengine.WithName("deploy"),
//			taskengine.WithChildren(provision, install, launch))
//		m.Submit(context.Background(), composite)
//
//		poll := taskengine.ScheduleFunc(checkHealth,
//			[]taskengine.TaskOption{taskengine.WithPeriod(30 * time.Second)})
//		m.Submit(context.Background(), poll)
//	}
//
// For more details, see https://github.com/Swind/go-task-engine
package taskengine
