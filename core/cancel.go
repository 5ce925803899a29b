package core

import "fmt"

// CancelMode selects how far a cancellation reaches.
type CancelMode int

const (
	// DoNotInterrupt marks the task cancelled but lets a running body finish.
	DoNotInterrupt CancelMode = iota

	// InterruptTaskButNotSubmittedTasks interrupts only the task's own body.
	InterruptTaskButNotSubmittedTasks

	// InterruptTaskAndDependentSubmittedTasks interrupts the task, its children,
	// and submitted tasks that carry TagTransient.
	InterruptTaskAndDependentSubmittedTasks

	// InterruptTaskAndAllSubmittedTasks interrupts the task, its children,
	// and every task it submitted regardless of transience.
	InterruptTaskAndAllSubmittedTasks
)

// CancelModeFromBool maps the boolean shorthand onto a mode.
func CancelModeFromBool(mayInterrupt bool) CancelMode {
	if mayInterrupt {
		return InterruptTaskAndDependentSubmittedTasks
	}
	return DoNotInterrupt
}

func (m CancelMode) String() string {
	switch m {
	case DoNotInterrupt:
		return "DO_NOT_INTERRUPT"
	case InterruptTaskButNotSubmittedTasks:
		return "INTERRUPT_TASK_BUT_NOT_SUBMITTED_TASKS"
	case InterruptTaskAndDependentSubmittedTasks:
		return "INTERRUPT_TASK_AND_DEPENDENT_SUBMITTED_TASKS"
	case InterruptTaskAndAllSubmittedTasks:
		return "INTERRUPT_TASK_AND_ALL_SUBMITTED_TASKS"
	default:
		return fmt.Sprintf("CancelMode(%d)", int(m))
	}
}

func (m CancelMode) interrupts() bool {
	return m != DoNotInterrupt
}

func (m CancelMode) cascades() bool {
	return m == InterruptTaskAndDependentSubmittedTasks || m == InterruptTaskAndAllSubmittedTasks
}

// cancelTask is the single entry point for every cancellation.
//
// Children always follow with the same mode when the mode cascades. Submitted tasks
// follow under InterruptTaskAndAllSubmittedTasks, or under
// InterruptTaskAndDependentSubmittedTasks when they are transient. Each hop reapplies
// the same rule, so modes act transitively over the whole tree.
func cancelTask(t Task, mode CancelMode) bool {
	b := t.base()
	listeners, ok := b.markCancelled(mode)
	if !ok {
		return false
	}
	t.onCancel(mode)
	b.notify(listeners)

	if !mode.cascades() {
		return true
	}

	for _, child := range t.Children() {
		cancelTask(child, mode)
	}
	for _, sub := range t.SubmittedTasks() {
		if mode == InterruptTaskAndAllSubmittedTasks || sub.HasTag(TagTransient) {
			cancelTask(sub, mode)
		}
	}
	return true
}
