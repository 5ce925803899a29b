//go:build !ci

// This test measures submission cost against history size and is timing sensitive,
// so it is excluded from CI builds.

package core

import (
	"context"
	"testing"
	"time"
)

// TestExecutionManager_SubmitCostIndependentOfHistory verifies the tag index does not
// degrade as tasks accumulate
// Given: A manager that already ran 20000 tagged tasks
// When: Another batch of 2000 is submitted
// Then: The batch takes no longer than a small multiple of the same batch on a fresh manager
func TestExecutionManager_SubmitCostIndependentOfHistory(t *testing.T) {
	const batch = 2000
	tags := []Tag{TargetEntity("app"), TagEffectorCall}

	submitBatch := func(m *ExecutionManager) time.Duration {
		start := time.Now()
		var last Task
		for i := 0; i < batch; i++ {
			task, err := m.Submit(context.Background(), NewTask(nil, WithName("probe")), tags...)
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			last = task
		}
		elapsed := time.Since(start)
		waitDone(t, last, 10*time.Second)
		return elapsed
	}

	// Arrange
	fresh := newTestManager(t, 4)
	baseline := submitBatch(fresh)

	loaded := newTestManager(t, 4)
	for i := 0; i < 10; i++ {
		submitBatch(loaded)
	}

	// Act
	withHistory := submitBatch(loaded)

	// Assert
	limit := 5*baseline + 50*time.Millisecond
	if withHistory > limit {
		t.Errorf("batch after 20000 tasks took %v, want <= %v (baseline %v)", withHistory, limit, baseline)
	}
	if got := len(loaded.TasksWithAllTags(tags...)); got != 11*batch {
		t.Errorf("indexed tasks = %d, want %d", got, 11*batch)
	}
}
