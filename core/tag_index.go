package core

import "sync"

// tagIndex maps each tag to the tasks carrying it. Inserting costs one bucket lookup
// plus a map write, independent of how many tasks are already known; buckets lock
// individually so readers of one tag never wait for writers of another.
type tagIndex struct {
	buckets sync.Map // Tag -> *tagBucket
}

type tagBucket struct {
	mu    sync.RWMutex
	tasks map[TaskID]Task
}

func (ix *tagIndex) bucket(tag Tag, create bool) *tagBucket {
	if b, ok := ix.buckets.Load(tag); ok {
		return b.(*tagBucket)
	}
	if !create {
		return nil
	}
	b, _ := ix.buckets.LoadOrStore(tag, &tagBucket{tasks: make(map[TaskID]Task)})
	return b.(*tagBucket)
}

func (ix *tagIndex) add(t Task, tags []Tag) {
	for _, tag := range tags {
		b := ix.bucket(tag, true)
		b.mu.Lock()
		b.tasks[t.ID()] = t
		b.mu.Unlock()
	}
}

func (ix *tagIndex) remove(t Task) {
	for _, tag := range t.Tags() {
		b := ix.bucket(tag, false)
		if b == nil {
			continue
		}
		b.mu.Lock()
		delete(b.tasks, t.ID())
		b.mu.Unlock()
	}
}

// get returns a snapshot of the tasks carrying tag.
func (ix *tagIndex) get(tag Tag) []Task {
	b := ix.bucket(tag, false)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		out = append(out, t)
	}
	return out
}

func (ix *tagIndex) size(tag Tag) int {
	b := ix.bucket(tag, false)
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tasks)
}

// tags lists every tag that currently has at least one task.
func (ix *tagIndex) tags() []Tag {
	var out []Tag
	ix.buckets.Range(func(key, value any) bool {
		b := value.(*tagBucket)
		b.mu.RLock()
		n := len(b.tasks)
		b.mu.RUnlock()
		if n > 0 {
			out = append(out, key)
		}
		return true
	})
	return out
}
