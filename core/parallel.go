package core

import (
	"context"
	"sync"
)

// ParallelTask submits all of its children at once and ends when every child has
// ended. Its result is a []any holding the child results in declaration order.
// A failing child that is not inessential fails the parallel task unless children
// failures are swallowed.
type ParallelTask struct {
	taskBase
	swallowChildrenFailures bool

	cmu      sync.Mutex
	children []Task
}

var _ Task = (*ParallelTask)(nil)

// NewParallelTask creates a parallel task over children plus any WithChildren option.
func NewParallelTask(children []Task, opts ...TaskOption) *ParallelTask {
	cfg := newTaskConfig(opts)
	p := &ParallelTask{swallowChildrenFailures: cfg.swallowChildrenFailures}
	name := cfg.name
	if name == "" {
		name = "parallel"
	}
	cfg.name = name
	p.init(p, cfg, nil)
	for _, child := range append(append([]Task(nil), children...), cfg.children...) {
		child.base().setParent(p)
		p.children = append(p.children, child)
	}
	return p
}

func (p *ParallelTask) Children() []Task {
	p.cmu.Lock()
	defer p.cmu.Unlock()
	out := make([]Task, len(p.children))
	copy(out, p.children)
	return out
}

func (p *ParallelTask) launch(ctx context.Context, m *ExecutionManager) error {
	return m.post(p, func(context.Context) { p.run(ctx, m) })
}

func (p *ParallelTask) run(ctx context.Context, m *ExecutionManager) {
	if !p.markBegun() {
		return
	}
	ctx = m.beginTask(ctx, p)
	result, err := m.invoke(ctx, p, p.runChildren(m))
	p.complete(result, err)
}

func (p *ParallelTask) runChildren(m *ExecutionManager) TaskFunc {
	return func(ctx context.Context) (any, error) {
		children := p.Children()
		submitErrs := make([]error, len(children))
		for i, child := range children {
			submitErrs[i] = m.submitInternal(ctx, child, p, nil)
		}

		results := make([]any, len(children))
		var failure error
		for i, child := range children {
			var (
				res any
				err error
			)
			if submitErrs[i] != nil {
				err = submitErrs[i]
			} else {
				res, err = child.Get(ctx)
				if ierr := Interrupted(ctx); ierr != nil {
					return nil, ierr
				}
			}
			if err != nil {
				if failure == nil && !p.swallowChildrenFailures && !child.HasTag(TagInessential) {
					failure = &ChildFailedError{Child: child, Err: err}
				}
				continue
			}
			results[i] = res
		}
		if failure != nil {
			return nil, failure
		}
		return results, nil
	}
}
