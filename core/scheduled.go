package core

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ScheduledTask repeatedly manufactures a fresh task and submits it to its manager.
//
// The first iteration starts after the initial delay; each following one starts a
// full period after the previous iteration ended (fixed delay). The schedule ends
// successfully after the maximum number of iterations, or after the current
// iteration once the period has been cleared. A failing iteration ends the schedule
// with that failure unless cancel-on-exception is disabled.
//
// Code running inside an iteration reaches its schedule with CurrentScheduledTask.
type ScheduledTask struct {
	taskBase
	factory           TaskFactory
	delay             time.Duration
	maxIterations     int
	cancelOnException bool

	smu         sync.Mutex
	period      time.Duration
	runCount    int
	recentRun   Task
	current     Task
	nextRunTime time.Time
	lastResult  any
	iterCtx     context.Context
	mgr         *ExecutionManager
	pending     *DelayedWork
}

var _ Task = (*ScheduledTask)(nil)

// NewScheduledTask creates a schedule that calls factory once per iteration.
func NewScheduledTask(factory TaskFactory, opts ...TaskOption) *ScheduledTask {
	cfg := newTaskConfig(opts)
	st := &ScheduledTask{
		factory:           factory,
		delay:             cfg.delay,
		maxIterations:     cfg.maxIterations,
		cancelOnException: cfg.cancelOnException,
		period:            cfg.period,
	}
	if cfg.name == "" {
		cfg.name = "scheduled " + resolveFuncName(factory, "")
	}
	st.init(st, cfg, factory)
	return st
}

// ScheduleFunc creates a schedule whose iterations run body as a BasicTask.
// iterationOpts configure every manufactured iteration.
func ScheduleFunc(body TaskFunc, scheduleOpts []TaskOption, iterationOpts ...TaskOption) *ScheduledTask {
	opts := append([]TaskOption{WithName("scheduled " + resolveFuncName(body, ""))}, scheduleOpts...)
	return NewScheduledTask(func() Task {
		return NewTask(body, iterationOpts...)
	}, opts...)
}

func (st *ScheduledTask) Delay() time.Duration { return st.delay }
func (st *ScheduledTask) MaxIterations() int   { return st.maxIterations }

// Period returns the current period; zero means no further iterations.
func (st *ScheduledTask) Period() time.Duration {
	st.smu.Lock()
	defer st.smu.Unlock()
	return st.period
}

// SetPeriod changes the wait used after the iteration in flight.
func (st *ScheduledTask) SetPeriod(d time.Duration) {
	st.smu.Lock()
	defer st.smu.Unlock()
	st.period = d
}

// ClearPeriod lets the iteration in flight finish and then ends the schedule.
func (st *ScheduledTask) ClearPeriod() {
	st.SetPeriod(0)
}

// RunCount is the number of iterations started so far.
func (st *ScheduledTask) RunCount() int {
	st.smu.Lock()
	defer st.smu.Unlock()
	return st.runCount
}

// RecentRun returns the latest iteration, nil before the first one.
func (st *ScheduledTask) RecentRun() Task {
	st.smu.Lock()
	defer st.smu.Unlock()
	return st.recentRun
}

// NextRunTime is when the next iteration is due; zero when none is scheduled.
func (st *ScheduledTask) NextRunTime() time.Time {
	st.smu.Lock()
	defer st.smu.Unlock()
	return st.nextRunTime
}

// Children exposes the iteration in flight, if any.
func (st *ScheduledTask) Children() []Task {
	st.smu.Lock()
	defer st.smu.Unlock()
	if st.current == nil {
		return nil
	}
	return []Task{st.current}
}

func (st *ScheduledTask) launch(ctx context.Context, m *ExecutionManager) error {
	st.smu.Lock()
	st.iterCtx = withScheduled(ctx, st)
	st.mgr = m
	st.nextRunTime = time.Now().Add(min(st.delay, maxDelay))
	st.smu.Unlock()

	return st.schedule(m, st.delay)
}

// schedule posts the next iteration and keeps its handle so a cancel can withdraw it.
func (st *ScheduledTask) schedule(m *ExecutionManager, delay time.Duration) error {
	w, err := m.postDelayed(st, st.runIteration, delay)
	if err != nil {
		return err
	}
	st.smu.Lock()
	st.pending = w
	st.smu.Unlock()

	// Cancelled while posting: onCancel may have missed the handle.
	if st.IsDone() {
		st.dropPending()
	}
	return nil
}

func (st *ScheduledTask) dropPending() {
	st.smu.Lock()
	w, m := st.pending, st.mgr
	st.pending = nil
	st.smu.Unlock()

	if w != nil && m != nil {
		m.removeDelayed(w)
	}
}

func (st *ScheduledTask) runIteration(context.Context) {
	if st.IsDone() {
		return
	}

	st.smu.Lock()
	m := st.mgr
	if st.markBegun() {
		st.iterCtx = m.beginTask(st.iterCtx, st)
	}
	ctx := st.iterCtx
	st.smu.Unlock()

	inner := st.manufacture(ctx, m)
	if inner == nil {
		return
	}

	st.smu.Lock()
	if st.IsDone() {
		st.smu.Unlock()
		return
	}
	st.runCount++
	st.recentRun = inner
	st.current = inner
	st.nextRunTime = time.Time{}
	st.smu.Unlock()

	if err := m.submitInternal(ctx, inner, nil, nil); err != nil {
		st.complete(nil, errors.Wrapf(err, "scheduling iteration of %q", st.displayName))
		return
	}
	inner.base().addDoneListener(st.iterationEnded)
}

// manufacture calls the factory, failing the schedule if it panics or returns nil.
func (st *ScheduledTask) manufacture(ctx context.Context, m *ExecutionManager) Task {
	var inner Task
	_, err := m.invoke(ctx, st, func(context.Context) (any, error) {
		inner = st.factory()
		if inner == nil {
			return nil, errors.Errorf("factory of %q returned no task", st.displayName)
		}
		return nil, nil
	})
	if err != nil {
		st.complete(nil, err)
		return nil
	}
	return inner
}

func (st *ScheduledTask) iterationEnded(inner Task) {
	st.smu.Lock()
	if st.current == inner {
		st.current = nil
	}
	st.smu.Unlock()

	if st.IsDone() {
		return
	}

	failed := inner.IsError() || inner.IsCancelled()
	if failed && st.cancelOnException {
		st.complete(nil, errors.Wrapf(inner.Err(), "iteration of %q failed", st.displayName))
		return
	}

	st.smu.Lock()
	if failed {
		st.lastResult = nil
	} else {
		st.lastResult = inner.Result()
	}
	exhausted := st.maxIterations > 0 && st.runCount >= st.maxIterations
	period := st.period
	result := st.lastResult
	m := st.mgr
	if !exhausted && period > 0 {
		st.nextRunTime = time.Now().Add(min(period, maxDelay))
	}
	st.smu.Unlock()

	if exhausted || period <= 0 {
		st.complete(result, nil)
		return
	}
	if err := st.schedule(m, period); err != nil {
		st.complete(nil, errors.Wrapf(err, "rescheduling %q", st.displayName))
	}
}

func (st *ScheduledTask) onCancel(mode CancelMode) {
	st.smu.Lock()
	current := st.current
	st.nextRunTime = time.Time{}
	st.smu.Unlock()

	st.dropPending()
	if current != nil {
		cancelTask(current, mode)
	}
}
