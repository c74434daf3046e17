package engine

import (
	"sort"
	"sync"
	"time"
)

// Registry is the set of scheduled tasks, unique by name and kept in
// insertion order. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	tasks []*Task
	index map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{index: map[string]*Task{}}
}

// AddOrUpdate inserts t, or when a task with the same name exists, moves t's
// timetable, action and options onto it. The stored task is returned.
func (r *Registry) AddOrUpdate(t *Task) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.index[t.name]; ok {
		if cur != t {
			t.mu.Lock()
			tt, action, opt := t.timetable, t.action, t.opt
			t.mu.Unlock()
			cur.update(tt, action, opt)
		}
		return cur
	}
	r.tasks = append(r.tasks, t)
	r.index[t.name] = t
	return t
}

// Remove deletes the named task. A running execution is left to finish.
func (r *Registry) Remove(name string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.index[name]
	if !ok {
		return nil, false
	}
	delete(r.index, name)
	for i, cur := range r.tasks {
		if cur == t {
			r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
			break
		}
	}
	return t, true
}

func (r *Registry) Get(name string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.index[name]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Tasks returns a snapshot of the registered tasks in insertion order.
func (r *Registry) Tasks() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Task(nil), r.tasks...)
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.name)
	}
	return out
}

// Each calls fn for every task in insertion order until fn returns false.
// fn runs on a snapshot, so it may call back into the registry.
func (r *Registry) Each(fn func(*Task) bool) {
	for _, t := range r.Tasks() {
		if !fn(t) {
			return
		}
	}
}

// NextExecutionTime returns the earliest upcoming occurrence across all
// tasks, or false when no task has one left.
func (r *Registry) NextExecutionTime(now time.Time) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		earliest time.Time
		found    bool
	)
	for _, t := range r.tasks {
		next := t.NextOccurrence(now)
		if next.IsZero() {
			continue
		}
		if !found || next.Before(earliest) {
			earliest, found = next, true
		}
	}
	return earliest, found
}

// ScheduledToExecuteAt returns the tasks whose upcoming occurrence is exactly
// at. With sortByFrequency the most frequent task comes first; ties keep
// insertion order.
//
// The registry lock is held for the whole selection so a concurrent
// AddOrUpdate cannot reset a task between its check and the next.
func (r *Registry) ScheduledToExecuteAt(at time.Time, sortByFrequency bool) []*Task {
	if at.IsZero() {
		return nil
	}
	r.mu.Lock()
	var due []*Task
	for _, t := range r.tasks {
		if t.NextOccurrence(at).Equal(at) {
			due = append(due, t)
		}
	}
	r.mu.Unlock()
	if sortByFrequency && len(due) > 1 {
		sort.SliceStable(due, func(i, j int) bool {
			return due[i].FrequencyInSeconds() < due[j].FrequencyInSeconds()
		})
	}
	return due
}

// Running returns the tasks with an execution in flight.
func (r *Registry) Running() []*Task {
	var out []*Task
	r.Each(func(t *Task) bool {
		if t.Running() {
			out = append(out, t)
		}
		return true
	})
	return out
}
