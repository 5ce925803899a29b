package core

import "time"

// TaskOption configures a task at construction time.
type TaskOption func(*taskConfig)

type taskConfig struct {
	name        string
	description string
	tags        []Tag
	traits      TaskTraits

	// composite and parallel
	children                []Task
	swallowChildrenFailures bool

	// scheduled
	delay             time.Duration
	period            time.Duration
	maxIterations     int
	cancelOnException bool
}

func newTaskConfig(opts []TaskOption) *taskConfig {
	cfg := &taskConfig{
		traits:            DefaultTaskTraits(),
		cancelOnException: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithName sets the display name. The default is the body's function name.
func WithName(name string) TaskOption {
	return func(c *taskConfig) { c.name = name }
}

func WithDescription(description string) TaskOption {
	return func(c *taskConfig) { c.description = description }
}

// WithTags adds tags. Tags must be comparable; Submit rejects the task otherwise.
func WithTags(tags ...Tag) TaskOption {
	return func(c *taskConfig) { c.tags = append(c.tags, tags...) }
}

func WithPriority(p TaskPriority) TaskOption {
	return func(c *taskConfig) { c.traits.Priority = p }
}

func WithTraits(traits TaskTraits) TaskOption {
	return func(c *taskConfig) { c.traits = traits }
}

// Transient tags the task with TagTransient.
func Transient() TaskOption {
	return WithTags(TagTransient)
}

// Inessential tags the task with TagInessential.
func Inessential() TaskOption {
	return WithTags(TagInessential)
}

// WithChildren pre-declares children of a composite or parallel task.
func WithChildren(children ...Task) TaskOption {
	return func(c *taskConfig) { c.children = append(c.children, children...) }
}

// WithSwallowChildrenFailures keeps failing children from failing the parent.
func WithSwallowChildrenFailures(swallow bool) TaskOption {
	return func(c *taskConfig) { c.swallowChildrenFailures = swallow }
}

// WithDelay sets the wait before the first scheduled iteration.
func WithDelay(d time.Duration) TaskOption {
	return func(c *taskConfig) { c.delay = d }
}

// WithPeriod sets the wait between the end of one iteration and the start of the
// next. A period <= 0 runs a single iteration.
func WithPeriod(d time.Duration) TaskOption {
	return func(c *taskConfig) { c.period = d }
}

// WithMaxIterations bounds the number of iterations; n <= 0 means unbounded.
func WithMaxIterations(n int) TaskOption {
	return func(c *taskConfig) { c.maxIterations = n }
}

// WithCancelOnException controls whether a failed iteration stops the schedule.
// Defaults to true.
func WithCancelOnException(cancel bool) TaskOption {
	return func(c *taskConfig) { c.cancelOnException = cancel }
}
