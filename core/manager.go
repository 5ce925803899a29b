package core

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const (
	managerRunning int32 = iota
	managerDraining
	managerStopped
)

// ManagerOption configures an ExecutionManager.
type ManagerOption func(*ExecutionManager)

// WithManagerName names the manager in logs and metrics. Defaults to the pool ID.
func WithManagerName(name string) ManagerOption {
	return func(m *ExecutionManager) { m.name = name }
}

func WithLogger(logger Logger) ManagerOption {
	return func(m *ExecutionManager) { m.logger = logger }
}

func WithMetrics(metrics Metrics) ManagerOption {
	return func(m *ExecutionManager) { m.metrics = metrics }
}

func WithPanicHandler(h PanicHandler) ManagerOption {
	return func(m *ExecutionManager) { m.panicHandler = h }
}

func WithRejectedTaskHandler(h RejectedTaskHandler) ManagerOption {
	return func(m *ExecutionManager) { m.rejectedTaskHandler = h }
}

// WithHooks registers lifecycle hooks, called in registration order.
func WithHooks(hooks ...TaskLifecycleHook) ManagerOption {
	return func(m *ExecutionManager) { m.hooks = append(m.hooks, hooks...) }
}

// WithHistoryCapacity sets how many finished tasks RecentTasks remembers.
func WithHistoryCapacity(n int) ManagerOption {
	return func(m *ExecutionManager) { m.historyCapacity = n }
}

// ExecutionManager submits tasks onto a worker pool, keeps a registry of every task
// it accepted, indexes them by tag, and owns their ambient execution context.
type ExecutionManager struct {
	name                string
	pool                ThreadPool
	logger              Logger
	metrics             Metrics
	panicHandler        PanicHandler
	rejectedTaskHandler RejectedTaskHandler
	hooks               []TaskLifecycleHook
	historyCapacity     int

	tasks     sync.Map // TaskID -> Task
	taskCount int64
	tagIndex  tagIndex
	history   *executionHistory
	stats     managerCounters

	lifecycleMu sync.Mutex
	state       int32
}

// NewExecutionManager creates a manager running task bodies on pool.
func NewExecutionManager(pool ThreadPool, opts ...ManagerOption) *ExecutionManager {
	m := &ExecutionManager{pool: pool}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.name == "" {
		m.name = pool.ID()
	}
	if m.logger == nil {
		m.logger = defaultLogger()
	}
	if m.metrics == nil {
		m.metrics = &NilMetrics{}
	}
	if m.panicHandler == nil {
		m.panicHandler = &DefaultPanicHandler{Logger: m.logger}
	}
	if m.rejectedTaskHandler == nil {
		m.rejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: m.logger}
	}
	m.history = newExecutionHistory(m.historyCapacity)
	if a, ok := pool.(handlerAdopter); ok {
		a.adoptHandlers(m.panicHandler, m.metrics, m.rejectedTaskHandler)
	}
	return m
}

// handlerAdopter is implemented by pools that report through their owning manager's
// handlers unless configured with their own.
type handlerAdopter interface {
	adoptHandlers(panicHandler PanicHandler, metrics Metrics, rejected RejectedTaskHandler)
}

func (m *ExecutionManager) Name() string     { return m.name }
func (m *ExecutionManager) Pool() ThreadPool { return m.pool }
func (m *ExecutionManager) Logger() Logger   { return m.logger }

// =============================================================================
// Lifecycle
// =============================================================================

// Start starts the underlying pool if it is not running yet.
func (m *ExecutionManager) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if !m.pool.IsRunning() {
		m.pool.Start(ctx)
	}
}

func (m *ExecutionManager) IsShutdown() bool {
	return atomic.LoadInt32(&m.state) != managerRunning
}

// ShutdownNow rejects new submissions, cancels every live task with
// InterruptTaskAndAllSubmittedTasks and stops the pool. It returns the cancelled
// tasks. It must not be called from inside a task body.
func (m *ExecutionManager) ShutdownNow() []Task {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	atomic.StoreInt32(&m.state, managerStopped)

	var cancelled []Task
	for _, t := range m.liveTasks() {
		if cancelTask(t, InterruptTaskAndAllSubmittedTasks) {
			cancelled = append(cancelled, t)
		}
	}
	m.pool.Stop()

	m.logger.Info("execution manager shut down",
		F("manager", m.name),
		F("cancelled", len(cancelled)))
	return cancelled
}

// ShutdownGraceful rejects new top-level submissions and waits up to timeout for
// live tasks to finish. Scheduled tasks stop scheduling further iterations. Work
// submitted from inside running tasks is still accepted while draining. On timeout
// the remaining tasks are cancelled and an error wrapping ErrTimeout is returned.
func (m *ExecutionManager) ShutdownGraceful(timeout time.Duration) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !atomic.CompareAndSwapInt32(&m.state, managerRunning, managerDraining) {
		return nil
	}

	for _, t := range m.liveTasks() {
		if st, ok := t.(*ScheduledTask); ok {
			cancelTask(st, DoNotInterrupt)
		}
	}

	deadline := time.Now().Add(timeout)
	var waitErr error
drain:
	for {
		live := m.liveTasks()
		if len(live) == 0 {
			break
		}
		for _, t := range live {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				waitErr = errors.Wrapf(ErrTimeout, "graceful shutdown of %s after %v", m.name, timeout)
				break drain
			}
			timer := time.NewTimer(remaining)
			select {
			case <-t.Done():
				timer.Stop()
			case <-timer.C:
				waitErr = errors.Wrapf(ErrTimeout, "graceful shutdown of %s after %v", m.name, timeout)
				break drain
			}
		}
	}

	atomic.StoreInt32(&m.state, managerStopped)
	if waitErr != nil {
		for _, t := range m.liveTasks() {
			cancelTask(t, InterruptTaskAndAllSubmittedTasks)
		}
		m.logger.Warn("graceful shutdown timed out", F("manager", m.name), F("timeout", timeout))
	}
	m.pool.Stop()

	m.logger.Info("execution manager shut down", F("manager", m.name), F("graceful", waitErr == nil))
	return waitErr
}

func (m *ExecutionManager) liveTasks() []Task {
	var live []Task
	m.tasks.Range(func(_, value any) bool {
		t := value.(Task)
		if !t.IsDone() {
			live = append(live, t)
		}
		return true
	})
	return live
}

// =============================================================================
// Submission
// =============================================================================

// Submit hands task to the manager and returns it. The task submitted-by relation is
// taken from CurrentTask(ctx). Submitting a task that already belongs to this manager
// is a no-op apart from adding tags; a task owned by another manager is refused
// with ErrAlreadySubmitted. A rejected task is left unsubmitted.
func (m *ExecutionManager) Submit(ctx context.Context, task Task, tags ...Tag) (Task, error) {
	if task == nil {
		return nil, errors.New("submit: nil task")
	}
	if err := m.submitInternal(ctx, task, nil, tags); err != nil {
		return task, err
	}
	return task, nil
}

// SubmitFunc wraps body in a BasicTask and submits it.
func (m *ExecutionManager) SubmitFunc(ctx context.Context, body TaskFunc, opts ...TaskOption) (Task, error) {
	return m.Submit(ctx, NewTask(body, opts...))
}

func (m *ExecutionManager) submitInternal(ctx context.Context, task Task, parent Task, tags []Tag) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b := task.base()

	if b.tagErr != nil {
		return errors.Wrapf(b.tagErr, "submitting %q", b.displayName)
	}
	if err := validateTags(tags); err != nil {
		return errors.Wrapf(err, "submitting %q", b.displayName)
	}

	submitter := CurrentTask(ctx)
	if submitter == task {
		submitter = nil
	}

	switch atomic.LoadInt32(&m.state) {
	case managerStopped:
		m.reject(task, "shutdown")
		return errors.Wrapf(ErrManagerClosed, "submitting %q", b.displayName)
	case managerDraining:
		if submitter == nil && parent == nil {
			m.reject(task, "draining")
			return errors.Wrapf(ErrManagerClosed, "submitting %q", b.displayName)
		}
	}

	_ = b.addTags(tags)

	already, err := b.markSubmitted(m, parent, submitter)
	if err != nil {
		return err
	}
	if already {
		m.tagIndex.add(task, tags)
		return nil
	}

	m.register(task)
	trackSubmitter := submitter != nil && submitter != parent
	if _, scheduled := submitter.(*ScheduledTask); scheduled {
		// Iterations are reachable through RecentRun; keeping them all would grow forever.
		trackSubmitter = false
	}
	if trackSubmitter {
		submitter.base().addSubmitted(task)
	}
	m.metrics.RecordTaskSubmitted(m.name, b.traits.Priority)
	for _, h := range m.hooks {
		h.OnTaskSubmitted(ctx, task)
	}

	if task.IsDone() {
		// Cancelled before submission: registered for visibility, never run.
		return nil
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	runCtx = WithCurrentTask(runCtx, task)
	runCtx = withManager(runCtx, m)
	switch {
	case isComposite(task):
		runCtx = withComposite(runCtx, task.(*DynamicSequentialTask))
	case isComposite(parent):
		runCtx = withComposite(runCtx, parent.(*DynamicSequentialTask))
	default:
		runCtx = withComposite(runCtx, nil)
	}
	b.setRunCancel(cancel)

	if err := task.launch(runCtx, m); err != nil {
		if b.revertSubmission() {
			cancel(err)
			m.unregister(task)
			if trackSubmitter {
				submitter.base().removeSubmitted(task)
			}
			m.reject(task, "pool rejected")
			return errors.Wrapf(err, "submitting %q", b.displayName)
		}
	}
	b.addDoneListener(m.taskEnded)

	m.logger.Debug("task submitted",
		F("manager", m.name),
		F("task", b.displayName),
		F("task_id", b.id.Short()))
	return nil
}

func isComposite(t Task) bool {
	_, ok := t.(*DynamicSequentialTask)
	return ok
}

func (m *ExecutionManager) reject(task Task, reason string) {
	m.stats.rejected.Add(1)
	m.metrics.RecordTaskRejected(m.name, reason)
	m.rejectedTaskHandler.HandleRejectedTask(m.name, task, reason)
}

func (m *ExecutionManager) register(task Task) {
	if _, loaded := m.tasks.LoadOrStore(task.ID(), task); !loaded {
		atomic.AddInt64(&m.taskCount, 1)
	}
	m.tagIndex.add(task, task.Tags())
}

func (m *ExecutionManager) unregister(task Task) {
	if _, loaded := m.tasks.LoadAndDelete(task.ID()); loaded {
		atomic.AddInt64(&m.taskCount, -1)
	}
	m.tagIndex.remove(task)
}

// =============================================================================
// Execution (called from task kinds)
// =============================================================================

func (m *ExecutionManager) post(task Task, run Runnable) error {
	return m.pool.PostInternal(run, task.Traits())
}

func (m *ExecutionManager) postDelayed(task Task, run Runnable, delay time.Duration) (*DelayedWork, error) {
	return m.pool.PostDelayedInternal(run, delay, task.Traits())
}

func (m *ExecutionManager) removeDelayed(w *DelayedWork) bool {
	return m.pool.RemoveDelayedInternal(w)
}

// beginTask runs the begin hooks on the worker right before a body starts.
func (m *ExecutionManager) beginTask(ctx context.Context, task Task) context.Context {
	for _, h := range m.hooks {
		if next := h.OnTaskBegin(ctx, task); next != nil {
			ctx = next
		}
	}
	return ctx
}

// invoke calls body, converting a panic into a *PanicError.
func (m *ExecutionManager) invoke(ctx context.Context, task Task, body TaskFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			m.stats.panicked.Add(1)
			m.metrics.RecordTaskPanic(m.name, r)
			m.panicHandler.HandlePanic(ctx, m.name, task, r, stack)
			result, err = nil, &PanicError{Value: r, Stack: stack}
		}
	}()
	if body == nil {
		return nil, nil
	}
	return body(ctx)
}

func (m *ExecutionManager) beginBlockingCall() func() {
	if tracker, ok := m.pool.(BlockingCallTracker); ok {
		return tracker.BeginBlockingCall()
	}
	return func() {}
}

// taskEnded is the done listener of every task this manager launched.
func (m *ExecutionManager) taskEnded(task Task) {
	b := task.base()
	b.mu.Lock()
	state := b.state
	submitted, started, ended := b.submitTime, b.startTime, b.endTime
	err := b.err
	b.mu.Unlock()

	m.stats.onEnded(!started.IsZero(), state)

	var d time.Duration
	if !started.IsZero() {
		d = ended.Sub(started)
	}
	m.metrics.RecordTaskDuration(m.name, b.traits.Priority, state, d)

	var pe *PanicError
	m.history.Add(TaskExecutionRecord{
		TaskID:      b.id,
		Name:        b.displayName,
		ManagerName: m.name,
		Kind:        taskKind(task),
		Priority:    b.traits.Priority,
		State:       state,
		SubmittedAt: submitted,
		StartedAt:   started,
		FinishedAt:  ended,
		Duration:    d,
		Panicked:    errors.As(err, &pe),
		Err:         err,
	})

	for _, h := range m.hooks {
		h.OnTaskEnd(task)
	}

	if state == TaskStateFailed {
		m.logger.Debug("task failed",
			F("manager", m.name),
			F("task", b.displayName),
			F("task_id", b.id.Short()),
			F("error", err))
	}
}

// =============================================================================
// Queries
// =============================================================================

// GetTask returns the task with id, or nil.
func (m *ExecutionManager) GetTask(id TaskID) Task {
	if t, ok := m.tasks.Load(id); ok {
		return t.(Task)
	}
	return nil
}

// AllTasks returns a snapshot of every task the manager still knows.
func (m *ExecutionManager) AllTasks() []Task {
	out := make([]Task, 0, atomic.LoadInt64(&m.taskCount))
	m.tasks.Range(func(_, value any) bool {
		out = append(out, value.(Task))
		return true
	})
	return out
}

func (m *ExecutionManager) TasksWithTag(tag Tag) []Task {
	if validateTag(tag) != nil {
		return nil
	}
	return m.tagIndex.get(tag)
}

// TasksWithAllTags scans the smallest matching bucket and filters it.
func (m *ExecutionManager) TasksWithAllTags(tags ...Tag) []Task {
	if len(tags) == 0 {
		return m.AllTasks()
	}
	if validateTags(tags) != nil {
		return nil
	}

	smallest := tags[0]
	smallestSize := m.tagIndex.size(smallest)
	for _, tag := range tags[1:] {
		if n := m.tagIndex.size(tag); n < smallestSize {
			smallest, smallestSize = tag, n
		}
	}
	if smallestSize == 0 {
		return nil
	}

	var out []Task
	for _, t := range m.tagIndex.get(smallest) {
		if hasAllTags(t, tags) {
			out = append(out, t)
		}
	}
	return out
}

func (m *ExecutionManager) TasksWithAnyTag(tags ...Tag) []Task {
	seen := make(map[TaskID]struct{})
	var out []Task
	for _, tag := range tags {
		for _, t := range m.TasksWithTag(tag) {
			if _, ok := seen[t.ID()]; ok {
				continue
			}
			seen[t.ID()] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// TaskTags lists every tag carried by at least one known task.
func (m *ExecutionManager) TaskTags() []Tag {
	return m.tagIndex.tags()
}

func hasAllTags(t Task, tags []Tag) bool {
	for _, tag := range tags {
		if !t.HasTag(tag) {
			return false
		}
	}
	return true
}

// ActiveTasks filters tasks down to the ones not yet done.
func ActiveTasks(tasks []Task) []Task {
	var out []Task
	for _, t := range tasks {
		if !t.IsDone() {
			out = append(out, t)
		}
	}
	return out
}

// Purge forgets task. It stays usable by whoever still holds it.
func (m *ExecutionManager) Purge(task Task) {
	m.unregister(task)
}

// PurgeEnded forgets every task that ended before the cutoff and returns how many.
func (m *ExecutionManager) PurgeEnded(before time.Time) int {
	var victims []Task
	m.tasks.Range(func(_, value any) bool {
		t := value.(Task)
		if t.IsDone() {
			if end := t.EndTime(); !end.IsZero() && end.Before(before) {
				victims = append(victims, t)
			}
		}
		return true
	})
	for _, t := range victims {
		m.unregister(t)
	}
	return len(victims)
}

// RecentTasks returns up to limit finished-task records, newest first.
func (m *ExecutionManager) RecentTasks(limit int) []TaskExecutionRecord {
	return m.history.Recent(limit)
}

// Stats returns a point-in-time snapshot of the manager counters.
func (m *ExecutionManager) Stats() ManagerStats {
	s := ManagerStats{
		Name:      m.name,
		Submitted: m.stats.submitted.Load(),
		Pending:   m.stats.pending.Load(),
		Active:    m.stats.active.Load(),
		Succeeded: m.stats.succeeded.Load(),
		Failed:    m.stats.failed.Load(),
		Cancelled: m.stats.cancelled.Load(),
		Rejected:  m.stats.rejected.Load(),
		Panicked:  m.stats.panicked.Load(),
		Known:     int(atomic.LoadInt64(&m.taskCount)),
		Tags:      len(m.tagIndex.tags()),
		Shutdown:  m.IsShutdown(),
	}
	if last, ok := m.history.Last(); ok {
		s.LastTaskName = last.Name
		s.LastTaskAt = last.FinishedAt
	}
	return s
}

// managerCounters are updated under the owning task's lock so that pending and
// active never go negative.
type managerCounters struct {
	submitted atomic.Int64
	pending   atomic.Int64
	active    atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	rejected  atomic.Int64
	panicked  atomic.Int64
}

func (c *managerCounters) onSubmitted() {
	c.submitted.Add(1)
	c.pending.Add(1)
}

func (c *managerCounters) onReverted() {
	c.submitted.Add(-1)
	c.pending.Add(-1)
}

func (c *managerCounters) onBegun() {
	c.pending.Add(-1)
	c.active.Add(1)
}

func (c *managerCounters) onEnded(begun bool, state TaskState) {
	if begun {
		c.active.Add(-1)
	} else {
		c.pending.Add(-1)
	}
	switch state {
	case TaskStateSucceeded:
		c.succeeded.Add(1)
	case TaskStateFailed:
		c.failed.Add(1)
	case TaskStateCancelled:
		c.cancelled.Add(1)
	}
}

// =============================================================================
// ExecutionContext
// =============================================================================

// ExecutionContext is a view of a manager that adds default tags to every
// submission, typically the tags of one entity.
type ExecutionContext struct {
	manager *ExecutionManager
	tags    []Tag
}

// NewExecutionContext returns a view that tags everything it submits with tags.
func (m *ExecutionManager) NewExecutionContext(tags ...Tag) *ExecutionContext {
	return &ExecutionContext{manager: m, tags: append([]Tag(nil), tags...)}
}

func (ec *ExecutionContext) Manager() *ExecutionManager { return ec.manager }

func (ec *ExecutionContext) Tags() []Tag {
	return append([]Tag(nil), ec.tags...)
}

func (ec *ExecutionContext) Submit(ctx context.Context, task Task, tags ...Tag) (Task, error) {
	all := make([]Tag, 0, len(ec.tags)+len(tags))
	all = append(all, ec.tags...)
	all = append(all, tags...)
	return ec.manager.Submit(ctx, task, all...)
}

func (ec *ExecutionContext) SubmitFunc(ctx context.Context, body TaskFunc, opts ...TaskOption) (Task, error) {
	return ec.Submit(ctx, NewTask(body, opts...))
}

// Tasks returns every task carrying all of the context's tags.
func (ec *ExecutionContext) Tasks() []Task {
	return ec.manager.TasksWithAllTags(ec.tags...)
}
