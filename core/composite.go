package core

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// DynamicSequentialTask is a composite made of a primary body plus an ordered queue
// of secondary children.
//
// Once the composite begins, the primary body and the queue run concurrently. The
// queue runs one child at a time in enqueue order; pre-declared children come first
// and code running inside the primary body or inside a running child appends more
// through QueueTask. The composite ends when both the primary body and the queue
// are finished.
//
// A child that fails or is cancelled abandons the rest of the queue and fails the
// composite, unless the child is inessential or the composite swallows children
// failures. A failing primary body abandons the queue as well.
type DynamicSequentialTask struct {
	taskBase
	primary                 TaskFunc
	swallowChildrenFailures bool

	qmu           sync.Mutex
	children      []Task
	next          int
	active        Task
	runCtx        context.Context
	mgr           *ExecutionManager
	primaryDone   bool
	primaryResult any
	primaryErr    error
	failure       error
	abandoned     bool
	closed        bool
}

var _ Task = (*DynamicSequentialTask)(nil)

// NewDynamicSequentialTask creates a composite around primary, which may be nil.
// Children declared with WithChildren form the head of the queue.
func NewDynamicSequentialTask(primary TaskFunc, opts ...TaskOption) *DynamicSequentialTask {
	cfg := newTaskConfig(opts)
	d := &DynamicSequentialTask{
		primary:                 primary,
		swallowChildrenFailures: cfg.swallowChildrenFailures,
	}
	d.init(d, cfg, primary)
	for _, child := range cfg.children {
		child.base().setParent(d)
		d.children = append(d.children, child)
	}
	return d
}

// SwallowsChildrenFailures reports whether failing children leave the composite intact.
func (d *DynamicSequentialTask) SwallowsChildrenFailures() bool {
	return d.swallowChildrenFailures
}

// Children returns every child in enqueue order, including ones not started yet.
func (d *DynamicSequentialTask) Children() []Task {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	out := make([]Task, len(d.children))
	copy(out, d.children)
	return out
}

// AddChild pre-declares a child. It is Queue under another name.
func (d *DynamicSequentialTask) AddChild(t Task) error {
	return d.Queue(t)
}

// Queue appends t to the secondary queue. Once the composite has ended it returns
// ErrAlreadyEnded. A child queued after the queue was abandoned is recorded and
// cancelled without running.
func (d *DynamicSequentialTask) Queue(t Task) error {
	if t == nil {
		return errors.New("queue: nil task")
	}

	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return errors.Wrapf(ErrAlreadyEnded, "cannot queue %q on %q", t.DisplayName(), d.displayName)
	}
	t.base().setParent(d)
	d.children = append(d.children, t)
	abandoned := d.abandoned
	if abandoned {
		d.next = len(d.children)
	}
	d.qmu.Unlock()

	if abandoned {
		cancelTask(t, DoNotInterrupt)
		return nil
	}
	d.drain()
	return nil
}

func (d *DynamicSequentialTask) launch(ctx context.Context, m *ExecutionManager) error {
	return m.post(d, func(context.Context) { d.runPrimary(ctx, m) })
}

func (d *DynamicSequentialTask) runPrimary(ctx context.Context, m *ExecutionManager) {
	if !d.markBegun() {
		return
	}
	ctx = m.beginTask(ctx, d)

	d.qmu.Lock()
	d.runCtx = ctx
	d.mgr = m
	d.qmu.Unlock()

	d.drain()

	result, err := m.invoke(ctx, d, d.primary)

	d.qmu.Lock()
	d.primaryDone = true
	d.primaryResult = result
	d.primaryErr = err
	var abandoned []Task
	if err != nil {
		abandoned = d.abandonLocked()
	}
	d.qmu.Unlock()

	cancelAll(abandoned, DoNotInterrupt)
	d.maybeFinish()
}

// drain starts the next queued child if none is active.
func (d *DynamicSequentialTask) drain() {
	d.qmu.Lock()
	if d.runCtx == nil || d.active != nil || d.abandoned || d.next >= len(d.children) {
		d.qmu.Unlock()
		return
	}
	child := d.children[d.next]
	d.next++
	d.active = child
	ctx, m := d.runCtx, d.mgr
	d.qmu.Unlock()

	if err := m.submitInternal(ctx, child, d, nil); err != nil {
		d.childRejected(child, err)
		return
	}
	child.base().addDoneListener(d.childEnded)
}

func (d *DynamicSequentialTask) childRejected(child Task, err error) {
	d.qmu.Lock()
	if d.active == child {
		d.active = nil
	}
	if d.failure == nil {
		d.failure = &ChildFailedError{Child: child, Err: err}
	}
	abandoned := d.abandonLocked()
	d.qmu.Unlock()

	cancelAll(abandoned, DoNotInterrupt)
	d.maybeFinish()
}

func (d *DynamicSequentialTask) childEnded(child Task) {
	d.qmu.Lock()
	if d.active != child {
		d.qmu.Unlock()
		return
	}
	d.active = nil
	var abandoned []Task
	if (child.IsError() || child.IsCancelled()) && !d.tolerates(child) {
		if d.failure == nil {
			d.failure = &ChildFailedError{Child: child, Err: child.Err()}
		}
		abandoned = d.abandonLocked()
	}
	d.qmu.Unlock()

	cancelAll(abandoned, DoNotInterrupt)
	d.drain()
	d.maybeFinish()
}

func (d *DynamicSequentialTask) tolerates(child Task) bool {
	return d.swallowChildrenFailures || child.HasTag(TagInessential)
}

// abandonLocked marks the queue abandoned and returns the children that never started.
func (d *DynamicSequentialTask) abandonLocked() []Task {
	d.abandoned = true
	pending := append([]Task(nil), d.children[d.next:]...)
	d.next = len(d.children)
	return pending
}

// maybeFinish completes the composite once the primary body and the queue are done.
func (d *DynamicSequentialTask) maybeFinish() {
	d.qmu.Lock()
	if d.closed || !d.primaryDone || d.active != nil || d.next < len(d.children) {
		d.qmu.Unlock()
		return
	}
	d.closed = true
	result, err := d.primaryResult, d.primaryErr
	if err == nil && d.failure != nil {
		err = d.failure
	}
	d.runCtx = nil
	d.qmu.Unlock()

	d.complete(result, err)
}

func (d *DynamicSequentialTask) onCancel(mode CancelMode) {
	d.qmu.Lock()
	d.closed = true
	abandoned := d.abandonLocked()
	d.qmu.Unlock()

	cancelAll(abandoned, DoNotInterrupt)
}

func cancelAll(tasks []Task, mode CancelMode) {
	for _, t := range tasks {
		cancelTask(t, mode)
	}
}
