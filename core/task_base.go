package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// taskBase holds the identity, lifecycle and relationships shared by every task kind.
// All mutable fields are guarded by mu; tags have their own lock because they are
// read on every index query.
type taskBase struct {
	id          TaskID
	displayName string
	description string
	traits      TaskTraits
	self        Task

	tagMu  sync.RWMutex
	tags   []Tag
	tagSet map[Tag]struct{}
	tagErr error

	mu              sync.Mutex
	state           TaskState
	submitTime      time.Time
	startTime       time.Time
	endTime         time.Time
	result          any
	err             error
	parent          Task
	submittedBy     Task
	submitted       []Task
	manager         *ExecutionManager
	cancelRun       context.CancelCauseFunc
	blockingDetails string
	blockingTask    Task
	listeners       []func(Task)

	done chan struct{}
}

func (b *taskBase) init(self Task, cfg *taskConfig, body any) {
	b.id = GenerateTaskID()
	b.self = self
	b.displayName = resolveFuncName(body, cfg.name)
	b.description = cfg.description
	b.traits = cfg.traits
	b.tagSet = make(map[Tag]struct{})
	b.done = make(chan struct{})
	if err := b.addTags(cfg.tags); err != nil {
		b.tagErr = err
	}
}

func (b *taskBase) base() *taskBase { return b }

// onCancel is the hook task kinds override to stop their own machinery.
func (b *taskBase) onCancel(mode CancelMode) {}

// =============================================================================
// Identity and tags
// =============================================================================

func (b *taskBase) ID() TaskID          { return b.id }
func (b *taskBase) DisplayName() string { return b.displayName }
func (b *taskBase) Description() string { return b.description }
func (b *taskBase) Traits() TaskTraits  { return b.traits }

func (b *taskBase) Tags() []Tag {
	b.tagMu.RLock()
	defer b.tagMu.RUnlock()
	out := make([]Tag, len(b.tags))
	copy(out, b.tags)
	return out
}

func (b *taskBase) HasTag(tag Tag) bool {
	if validateTag(tag) != nil {
		return false
	}
	b.tagMu.RLock()
	defer b.tagMu.RUnlock()
	_, ok := b.tagSet[tag]
	return ok
}

// addTags appends the valid tags and reports the first invalid one.
func (b *taskBase) addTags(tags []Tag) error {
	var firstErr error
	b.tagMu.Lock()
	defer b.tagMu.Unlock()
	for _, tag := range tags {
		if err := validateTag(tag); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, ok := b.tagSet[tag]; ok {
			continue
		}
		b.tagSet[tag] = struct{}{}
		b.tags = append(b.tags, tag)
	}
	return firstErr
}

// =============================================================================
// State
// =============================================================================

func (b *taskBase) State() TaskState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *taskBase) SubmitTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitTime
}

func (b *taskBase) StartTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startTime
}

func (b *taskBase) EndTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endTime
}

func (b *taskBase) IsSubmitted() bool { return !b.SubmitTime().IsZero() }
func (b *taskBase) IsBegun() bool     { return !b.StartTime().IsZero() }
func (b *taskBase) IsDone() bool      { return b.State().IsTerminal() }
func (b *taskBase) IsError() bool     { return b.State() == TaskStateFailed }
func (b *taskBase) IsCancelled() bool { return b.State() == TaskStateCancelled }

func (b *taskBase) Done() <-chan struct{} { return b.done }

func (b *taskBase) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *taskBase) Result() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// markSubmitted binds the task to m. It reports true when the task already belongs
// to m, which makes a repeated Submit a no-op.
func (b *taskBase) markSubmitted(m *ExecutionManager, parent, submittedBy Task) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.manager != nil {
		if b.manager == m {
			return true, nil
		}
		return false, errors.Wrapf(ErrAlreadySubmitted, "task %q", b.displayName)
	}

	b.manager = m
	if parent != nil {
		b.parent = parent
	}
	b.submittedBy = submittedBy
	if b.state == TaskStateCreated {
		b.state = TaskStateSubmitted
		b.submitTime = time.Now()
		m.stats.onSubmitted()
	}
	return false, nil
}

// revertSubmission undoes markSubmitted after the pool refused the task. It reports
// false when the task was cancelled in the meantime and therefore stays submitted.
func (b *taskBase) revertSubmission() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != TaskStateSubmitted {
		return false
	}
	b.state = TaskStateCreated
	b.submitTime = time.Time{}
	if b.manager != nil {
		b.manager.stats.onReverted()
	}
	b.manager = nil
	b.submittedBy = nil
	b.cancelRun = nil
	return true
}

func (b *taskBase) setRunCancel(cancel context.CancelCauseFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelRun = cancel
}

// markBegun moves SUBMITTED to BEGUN. It returns false if the task was cancelled
// before a worker picked it up.
func (b *taskBase) markBegun() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != TaskStateSubmitted {
		return false
	}
	b.state = TaskStateBegun
	b.startTime = time.Now()
	if b.manager != nil {
		b.manager.stats.onBegun()
	}
	return true
}

// complete records the outcome of a body. The first terminal transition wins.
func (b *taskBase) complete(result any, err error) bool {
	b.mu.Lock()
	if b.state.IsTerminal() {
		b.mu.Unlock()
		return false
	}
	if err != nil {
		b.state = TaskStateFailed
		b.err = err
	} else {
		b.state = TaskStateSucceeded
		b.result = result
	}
	b.endTime = time.Now()
	b.blockingDetails = ""
	b.blockingTask = nil
	cancel := b.cancelRun
	b.cancelRun = nil
	listeners := b.listeners
	b.listeners = nil
	close(b.done)
	b.mu.Unlock()

	if cancel != nil {
		cancel(nil)
	}
	b.notify(listeners)
	return true
}

// markCancelled moves a live task to CANCELLED and interrupts its body when the
// mode asks for it. It returns the done listeners still to be notified.
func (b *taskBase) markCancelled(mode CancelMode) ([]func(Task), bool) {
	b.mu.Lock()
	if b.state.IsTerminal() {
		b.mu.Unlock()
		return nil, false
	}
	b.state = TaskStateCancelled
	b.err = errors.Wrapf(ErrCancelled, "task %q", b.displayName)
	b.endTime = time.Now()
	var cancel context.CancelCauseFunc
	if mode.interrupts() {
		cancel = b.cancelRun
		b.cancelRun = nil
	}
	listeners := b.listeners
	b.listeners = nil
	close(b.done)
	b.mu.Unlock()

	if cancel != nil {
		cancel(&interruptedError{mode: mode})
	}
	return listeners, true
}

func (b *taskBase) notify(listeners []func(Task)) {
	for _, l := range listeners {
		l(b.self)
	}
}

// addDoneListener runs fn once the task is terminal, immediately if it already is.
func (b *taskBase) addDoneListener(fn func(Task)) {
	b.mu.Lock()
	if b.state.IsTerminal() {
		b.mu.Unlock()
		fn(b.self)
		return
	}
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// =============================================================================
// Waiting
// =============================================================================

func (b *taskBase) BlockUntilEnded(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	default:
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if caller := CurrentTask(ctx); caller != nil && caller.base() != b {
		cb := caller.base()
		cb.setBlockingTask(b.self)
		defer cb.setBlockingTask(nil)
		if m := CurrentManager(ctx); m != nil {
			end := m.beginBlockingCall()
			defer end()
		}
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return waitError(ctx)
	}
}

func (b *taskBase) Get(ctx context.Context) (any, error) {
	if err := b.BlockUntilEnded(ctx); err != nil {
		return nil, err
	}
	return b.outcome()
}

func (b *taskBase) GetWithTimeout(ctx context.Context, timeout time.Duration) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.BlockUntilEnded(waitCtx); err != nil {
		// Only our own timer maps to ErrTimeout; interrupts and caller deadlines pass through.
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(ErrTimeout, "task %q after %v", b.displayName, timeout)
		}
		return nil, err
	}
	return b.outcome()
}

func (b *taskBase) outcome() (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == TaskStateSucceeded {
		return b.result, nil
	}
	return nil, b.err
}

// waitError explains why a wait on ctx ended early.
func waitError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		return ctx.Err()
	}
	return cause
}

// =============================================================================
// Cancellation
// =============================================================================

func (b *taskBase) Cancel(mode CancelMode) bool {
	return cancelTask(b.self, mode)
}

// =============================================================================
// Relationships
// =============================================================================

func (b *taskBase) Parent() Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parent
}

func (b *taskBase) setParent(p Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent = p
}

func (b *taskBase) SubmittedBy() Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submittedBy
}

// Children is empty for tasks that cannot have children.
func (b *taskBase) Children() []Task { return nil }

func (b *taskBase) SubmittedTasks() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Task, len(b.submitted))
	copy(out, b.submitted)
	return out
}

func (b *taskBase) addSubmitted(t Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, t)
}

func (b *taskBase) removeSubmitted(t Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.submitted {
		if s == t {
			b.submitted = append(b.submitted[:i], b.submitted[i+1:]...)
			return
		}
	}
}

// =============================================================================
// Blocking details and status
// =============================================================================

func (b *taskBase) BlockingDetails() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockingDetails
}

func (b *taskBase) BlockingTask() Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockingTask
}

func (b *taskBase) setBlockingDetails(details string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.blockingDetails
	b.blockingDetails = details
	return prev
}

func (b *taskBase) setBlockingTask(t Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockingTask = t
}

// StatusDetail summarises the task for humans. The multiline form adds timing,
// tags and, for panics, the captured stack.
func (b *taskBase) StatusDetail(multiline bool) string {
	b.mu.Lock()
	state := b.state
	result, err := b.result, b.err
	details, blockingOn := b.blockingDetails, b.blockingTask
	submitted, started, ended := b.submitTime, b.startTime, b.endTime
	b.mu.Unlock()

	var sb strings.Builder
	switch state {
	case TaskStateCreated:
		sb.WriteString("Not submitted")
	case TaskStateSubmitted:
		sb.WriteString("Submitted for execution")
	case TaskStateBegun:
		sb.WriteString("In progress")
		if details != "" {
			sb.WriteString(", ")
			sb.WriteString(details)
		}
		if blockingOn != nil {
			fmt.Fprintf(&sb, "; waiting on %s (%s)", blockingOn.DisplayName(), blockingOn.ID().Short())
		}
	case TaskStateSucceeded:
		sb.WriteString("Completed")
		if result != nil {
			fmt.Fprintf(&sb, ", result: %v", result)
		}
	case TaskStateFailed:
		fmt.Fprintf(&sb, "Failed: %v", err)
	case TaskStateCancelled:
		sb.WriteString("Cancelled")
	}

	if !multiline {
		return sb.String()
	}

	fmt.Fprintf(&sb, "\nTask: %s (%s)", b.displayName, b.id)
	if tags := b.Tags(); len(tags) > 0 {
		fmt.Fprintf(&sb, "\nTags: %v", tags)
	}
	writeTime := func(label string, t time.Time) {
		if !t.IsZero() {
			fmt.Fprintf(&sb, "\n%s: %s", label, t.Format(time.RFC3339Nano))
		}
	}
	writeTime("Submitted", submitted)
	writeTime("Started", started)
	writeTime("Ended", ended)
	if children := b.self.Children(); len(children) > 0 {
		fmt.Fprintf(&sb, "\nChildren: %d", len(children))
	}
	var pe *PanicError
	if errors.As(err, &pe) && len(pe.Stack) > 0 {
		fmt.Fprintf(&sb, "\n%s", pe.Stack)
	}
	return sb.String()
}

// =============================================================================
// BasicTask
// =============================================================================

// BasicTask runs a single body on one worker.
type BasicTask struct {
	taskBase
	body TaskFunc
}

var _ Task = (*BasicTask)(nil)

// NewTask creates a task around body.
func NewTask(body TaskFunc, opts ...TaskOption) *BasicTask {
	cfg := newTaskConfig(opts)
	t := &BasicTask{body: body}
	t.init(t, cfg, body)
	return t
}

func (t *BasicTask) launch(ctx context.Context, m *ExecutionManager) error {
	return m.post(t, func(context.Context) { t.run(ctx, m) })
}

func (t *BasicTask) run(ctx context.Context, m *ExecutionManager) {
	if !t.markBegun() {
		return
	}
	ctx = m.beginTask(ctx, t)
	result, err := m.invoke(ctx, t, t.body)
	t.complete(result, err)
}
