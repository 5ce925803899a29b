package core

import (
	"testing"
)

// TestExecutionHistory_RingBuffer verifies the history keeps only the newest records
// Given: A history with capacity 3
// When: 5 records are added
// Then: Recent returns the last 3, newest first, and Last returns the newest
func TestExecutionHistory_RingBuffer(t *testing.T) {
	// Arrange
	h := newExecutionHistory(3)
	if _, ok := h.Last(); ok {
		t.Fatal("Last() on empty history = true, want false")
	}

	// Act
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		h.Add(TaskExecutionRecord{Name: name})
	}

	// Assert
	recent := h.Recent(0)
	want := []string{"e", "d", "c"}
	if len(recent) != len(want) {
		t.Fatalf("len(Recent(0)) = %d, want %d", len(recent), len(want))
	}
	for i, r := range recent {
		if r.Name != want[i] {
			t.Errorf("Recent(0)[%d] = %s, want %s", i, r.Name, want[i])
		}
	}
	if got := h.Recent(1); len(got) != 1 || got[0].Name != "e" {
		t.Errorf("Recent(1) = %+v, want [e]", got)
	}
	if last, _ := h.Last(); last.Name != "e" {
		t.Errorf("Last() = %s, want e", last.Name)
	}
}

// TestExecutionHistory_DefaultCapacity verifies a non-positive capacity falls back
func TestExecutionHistory_DefaultCapacity(t *testing.T) {
	h := newExecutionHistory(0)
	for i := 0; i < defaultTaskHistoryCapacity+10; i++ {
		h.Add(TaskExecutionRecord{})
	}
	if got := len(h.Recent(0)); got != defaultTaskHistoryCapacity {
		t.Errorf("len(Recent(0)) = %d, want %d", got, defaultTaskHistoryCapacity)
	}
}

func TestTaskKind(t *testing.T) {
	tests := []struct {
		task Task
		want string
	}{
		{NewTask(nil), "basic"},
		{NewDynamicSequentialTask(nil), "dynamic_sequential"},
		{NewParallelTask(nil), "parallel"},
		{NewScheduledTask(func() Task { return NewTask(nil) }), "scheduled"},
	}
	for _, tt := range tests {
		if got := taskKind(tt.task); got != tt.want {
			t.Errorf("taskKind(%T) = %s, want %s", tt.task, got, tt.want)
		}
	}
}
