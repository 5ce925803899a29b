package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	posted []time.Time
	runs   []Runnable
}

func (s *recordingSink) post(r Runnable, traits TaskTraits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, time.Now())
	s.runs = append(s.runs, r)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posted)
}

// TestDelayManager_PostsWhenDue verifies a delayed runnable is not posted early
// Given: A DelayManager with one runnable delayed by 50ms
// When: Time passes
// Then: Nothing is posted at 20ms and exactly one post happens by 150ms
func TestDelayManager_PostsWhenDue(t *testing.T) {
	// Arrange
	sink := &recordingSink{}
	dm := NewDelayManager(sink.post)
	defer dm.Stop()
	start := time.Now()

	// Act
	dm.AddDelayed(func(ctx context.Context) {}, 50*time.Millisecond, DefaultTaskTraits())

	// Assert
	time.Sleep(20 * time.Millisecond)
	if got := sink.count(); got != 0 {
		t.Fatalf("posted after 20ms = %d, want 0", got)
	}
	time.Sleep(130 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Fatalf("posted after 150ms = %d, want 1", got)
	}
	if elapsed := sink.posted[0].Sub(start); elapsed < 50*time.Millisecond {
		t.Errorf("posted after %v, want >= 50ms", elapsed)
	}
	if dm.TaskCount() != 0 {
		t.Errorf("TaskCount() = %d, want 0", dm.TaskCount())
	}
}

// TestDelayManager_EarlierItemWakesLoop verifies a shorter delay added later still fires first
// Given: A runnable delayed by 300ms already waiting
// When: A runnable delayed by 20ms is added
// Then: The short one is posted long before the long one
func TestDelayManager_EarlierItemWakesLoop(t *testing.T) {
	// Arrange
	var order []string
	var mu sync.Mutex
	sink := func(r Runnable, traits TaskTraits) error {
		r(context.Background())
		return nil
	}
	dm := NewDelayManager(sink)
	defer dm.Stop()
	record := func(name string) Runnable {
		return func(ctx context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	// Act
	dm.AddDelayed(record("long"), 300*time.Millisecond, DefaultTaskTraits())
	dm.AddDelayed(record("short"), 20*time.Millisecond, DefaultTaskTraits())
	time.Sleep(100 * time.Millisecond)

	// Assert
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 1 || order[0] != "short" {
		t.Errorf("order after 100ms = %v, want [short]", order)
	}
}

// TestDelayManager_ConcurrentAdd verifies thread safety of AddDelayed
// Given: 100 goroutines adding delays between 10ms and 100ms
// When: All delays elapse
// Then: Every runnable is posted
func TestDelayManager_ConcurrentAdd(t *testing.T) {
	// Arrange
	var executed atomic.Int32
	dm := NewDelayManager(func(r Runnable, traits TaskTraits) error {
		r(context.Background())
		return nil
	})
	defer dm.Stop()

	// Act
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			delay := time.Duration(id%10+1) * 10 * time.Millisecond
			dm.AddDelayed(func(ctx context.Context) { executed.Add(1) }, delay, DefaultTaskTraits())
		}(i)
	}
	wg.Wait()
	time.Sleep(400 * time.Millisecond)

	// Assert
	if got := executed.Load(); got != 100 {
		t.Errorf("executed = %d, want 100", got)
	}
}

// TestDelayManager_HugeDelayIsClamped verifies an effectively infinite delay stays pending
// Given: A runnable delayed by the maximum duration
// When: It is added
// Then: It is held without being posted and without disturbing earlier items
func TestDelayManager_HugeDelayIsClamped(t *testing.T) {
	// Arrange
	sink := &recordingSink{}
	dm := NewDelayManager(sink.post)
	defer dm.Stop()

	// Act
	dm.AddDelayed(func(ctx context.Context) {}, time.Duration(1<<63-1), DefaultTaskTraits())
	dm.AddDelayed(func(ctx context.Context) {}, 10*time.Millisecond, DefaultTaskTraits())
	time.Sleep(80 * time.Millisecond)

	// Assert
	if got := sink.count(); got != 1 {
		t.Errorf("posted = %d, want 1", got)
	}
	if dm.TaskCount() != 1 {
		t.Errorf("TaskCount() = %d, want 1", dm.TaskCount())
	}
}

// TestDelayManager_StopDropsPending verifies Stop releases queued work
// Given: A DelayManager holding two delayed runnables
// When: Stop is called
// Then: TaskCount drops to zero and nothing is posted afterwards
func TestDelayManager_StopDropsPending(t *testing.T) {
	// Arrange
	sink := &recordingSink{}
	dm := NewDelayManager(sink.post)
	dm.AddDelayed(func(ctx context.Context) {}, 30*time.Millisecond, DefaultTaskTraits())
	dm.AddDelayed(func(ctx context.Context) {}, 40*time.Millisecond, DefaultTaskTraits())

	// Act
	dm.Stop()
	time.Sleep(80 * time.Millisecond)

	// Assert
	if dm.TaskCount() != 0 {
		t.Errorf("TaskCount() = %d, want 0", dm.TaskCount())
	}
	if got := sink.count(); got != 0 {
		t.Errorf("posted after Stop = %d, want 0", got)
	}
}

// TestDelayManager_Remove verifies withdrawn work never reaches the sink
// Given: Two delayed runnables, the earlier one withdrawn
// When: Both due times pass
// Then: Only the remaining one is posted, and removing twice reports false
func TestDelayManager_Remove(t *testing.T) {
	// Arrange
	sink := &recordingSink{}
	dm := NewDelayManager(sink.post)
	defer dm.Stop()
	early := dm.AddDelayed(func(ctx context.Context) {}, 20*time.Millisecond, DefaultTaskTraits())
	dm.AddDelayed(func(ctx context.Context) {}, 40*time.Millisecond, DefaultTaskTraits())

	// Act
	removed := dm.Remove(early)

	// Assert
	if !removed {
		t.Fatal("Remove() = false, want true")
	}
	if dm.TaskCount() != 1 {
		t.Errorf("TaskCount() = %d, want 1", dm.TaskCount())
	}
	if dm.Remove(early) {
		t.Error("second Remove() = true, want false")
	}
	if dm.Remove(nil) {
		t.Error("Remove(nil) = true, want false")
	}
	time.Sleep(120 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Errorf("posted = %d, want 1", got)
	}
}
