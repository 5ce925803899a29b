package core

import "time"

// TaskExecutionRecord captures a task that reached a terminal state.
type TaskExecutionRecord struct {
	TaskID      TaskID
	Name        string
	ManagerName string
	Kind        string
	Priority    TaskPriority
	State       TaskState
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	Panicked    bool
	Err         error
}

// ManagerStats represents runtime observability state for an execution manager.
type ManagerStats struct {
	Name      string
	Submitted int64
	Pending   int64
	Active    int64
	Succeeded int64
	Failed    int64
	Cancelled int64
	Rejected  int64
	Panicked  int64
	Known     int
	Tags      int
	Shutdown  bool

	LastTaskName string
	LastTaskAt   time.Time
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID           string
	Workers      int
	Compensating int
	Queued       int
	Active       int
	Delayed      int
	Running      bool
}
