package engine

import (
	"context"
	"sync"
	"time"
)

// ResultRecord is what the ResultSaver hook receives after a successful
// execution of a task registered with Save.
type ResultRecord struct {
	Name        string    `json:"name"`
	ReturnValue any       `json:"return_value"`
	ExecutedAt  time.Time `json:"executed_at"`
	ExecutedBy  string    `json:"executed_by"`
}

type ResultSaver interface {
	SaveResult(ctx context.Context, rec ResultRecord) error
}

// ResultLoader returns the value saved by the previous execution of name.
type ResultLoader interface {
	LoadResult(ctx context.Context, name string) (value any, ok bool, err error)
}

// LockResult reports whether a TaskLocker ran the wrapped function and what
// it returned.
type LockResult struct {
	Ran         bool
	ReturnValue any
	Err         error
}

// TaskLocker guards a single execution with a lock keyed by task name. When
// the lock cannot be acquired it returns LockResult{Ran: false} and does not
// call fn.
type TaskLocker interface {
	LockTask(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (LockResult, error)
}

// SlowTaskHandler is called when an occurrence comes due while the previous
// execution of the same task is still running.
type SlowTaskHandler interface {
	HandleSlowTask(ctx context.Context, name string, current, previous time.Time)
}

// Hooks bundles the optional execution hooks. Nil members are skipped.
type Hooks struct {
	Results     ResultSaver
	PrevResults ResultLoader
	TaskLocker  TaskLocker
	SlowTask    SlowTaskHandler
}

type ResultSaverFunc func(ctx context.Context, rec ResultRecord) error

func (f ResultSaverFunc) SaveResult(ctx context.Context, rec ResultRecord) error { return f(ctx, rec) }

type ResultLoaderFunc func(ctx context.Context, name string) (any, bool, error)

func (f ResultLoaderFunc) LoadResult(ctx context.Context, name string) (any, bool, error) {
	return f(ctx, name)
}

type SlowTaskFunc func(ctx context.Context, name string, current, previous time.Time)

func (f SlowTaskFunc) HandleSlowTask(ctx context.Context, name string, current, previous time.Time) {
	f(ctx, name, current, previous)
}

// LocalLocker is an in-process TaskLocker. A second execution of the same
// task name is refused while the first holds the lock.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]struct{}{}}
}

func (l *LocalLocker) LockTask(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (LockResult, error) {
	l.mu.Lock()
	if _, busy := l.held[name]; busy {
		l.mu.Unlock()
		return LockResult{}, nil
	}
	l.held[name] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}()
	v, err := fn(ctx)
	return LockResult{Ran: true, ReturnValue: v, Err: err}, nil
}
