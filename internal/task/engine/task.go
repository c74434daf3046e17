package engine

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"recurrent/internal/eventbus"
	"recurrent/internal/recurrence"
	"recurrent/pkg/logx"
)

// Task is one named recurring unit of work.
//
// A task has at most one execution in flight. An occurrence that comes due
// while the previous execution is still running is not started; the
// SlowTaskHandler hook is told instead.
type Task struct {
	name string
	rt   *Runtime

	mu        sync.Mutex
	timetable recurrence.Timetable
	action    Action
	opt       Options
	// next caches the upcoming occurrence until Execute consumes it, so a
	// worker that wakes late still finds the task due at that instant.
	next     time.Time
	consumed time.Time
	handle   *execution
}

type execution struct {
	due    time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTask validates its inputs and binds the task to rt.
func NewTask(name string, tt recurrence.Timetable, action Action, opt Options, rt *Runtime) (*Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if tt == nil {
		return nil, ErrNilTimetable
	}
	if !validAction(action) {
		return nil, ErrNilAction
	}
	if rt == nil {
		rt = &Runtime{}
	}
	if rt.Counter == nil {
		rt.Counter = &LocalCounter{}
	}
	return &Task{name: name, rt: rt, timetable: tt, action: action, opt: opt}, nil
}

func (t *Task) Name() string { return t.name }

func (t *Task) Timetable() recurrence.Timetable {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timetable
}

func (t *Task) Save() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opt.Save
}

// FrequencyInSeconds orders tasks when several are due at once.
func (t *Task) FrequencyInSeconds() int64 { return t.Timetable().FrequencyInSeconds() }

// NextOccurrence returns the task's upcoming occurrence. The value is cached
// until Execute is called for it.
func (t *Task) NextOccurrence(now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextLocked(now)
}

func (t *Task) nextLocked(now time.Time) time.Time {
	if t.next.IsZero() {
		if now.Before(t.consumed) {
			now = t.consumed
		}
		t.next = t.timetable.NextOccurrence(now)
	}
	return t.next
}

// update swaps the timetable, action and options in place, preserving the
// execution state. A cached occurrence survives when the frequency is
// unchanged, so re-registering a due task does not drop that occurrence.
func (t *Task) update(tt recurrence.Timetable, action Action, opt Options) {
	t.mu.Lock()
	if tt.FrequencyInSeconds() != t.timetable.FrequencyInSeconds() {
		t.next = time.Time{}
	}
	t.timetable = tt
	t.action = action
	t.opt = opt
	t.mu.Unlock()
}

// Running reports whether an execution of this task is in flight.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle != nil
}

// Execute starts the occurrence due at due and returns without waiting for
// it. It reports whether an execution was started.
func (t *Task) Execute(ctx context.Context, due time.Time) bool {
	t.mu.Lock()
	if !t.next.IsZero() && !t.next.After(due) {
		t.next = time.Time{}
	}
	if due.After(t.consumed) {
		t.consumed = due
	}
	if h := t.handle; h != nil {
		t.mu.Unlock()
		t.handleStillRunning(ctx, due, h.due)
		return false
	}
	if !t.rt.Counter.IncrementExecuting(t.rt.MaxConcurrency) {
		t.mu.Unlock()
		t.log().Debug("task skipped: concurrency cap reached", logx.Int("max_concurrency", t.rt.MaxConcurrency))
		t.publish(eventbus.TaskSkipped, TaskEvent{Name: t.name, Due: due, Reason: ReasonConcurrencyCap})
		return false
	}

	// Executions outlive the dispatching context; shutdown drains them
	// through Wait or Kill instead.
	base := context.WithoutCancel(ctx)
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if t.opt.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(base, t.opt.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}
	h := &execution{due: due, cancel: cancel, done: make(chan struct{})}
	t.handle = h
	action, opt := t.action, t.opt
	t.mu.Unlock()

	go t.run(runCtx, h, action, opt)
	return true
}

// HandleStillRunning reports an overlapping occurrence to the SlowTaskHandler
// hook, or logs it when no hook is installed.
func (t *Task) HandleStillRunning(ctx context.Context, current time.Time) {
	t.mu.Lock()
	var prev time.Time
	if t.handle != nil {
		prev = t.handle.due
	}
	t.mu.Unlock()
	t.handleStillRunning(ctx, current, prev)
}

func (t *Task) handleStillRunning(ctx context.Context, current, prev time.Time) {
	t.publish(eventbus.TaskSkipped, TaskEvent{Name: t.name, Due: current, Reason: ReasonStillRunning})
	if h := t.rt.Hooks.SlowTask; h != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.log().Error("slow task handler panic", logx.Any("panic", r))
				}
			}()
			h.HandleSlowTask(ctx, t.name, current, prev)
		}()
		return
	}
	t.log().Info("task still running, skipping occurrence",
		logx.Time("due", current), logx.Time("running_since", prev))
}

// Wait blocks until the in-flight execution, if any, has finished.
func (t *Task) Wait(ctx context.Context) error {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill cancels the in-flight execution and forgets it. The action observes
// the cancellation through its context; the task is considered idle at once.
func (t *Task) Kill() bool {
	t.mu.Lock()
	h := t.handle
	t.handle = nil
	t.mu.Unlock()
	if h == nil {
		return false
	}
	h.cancel()
	t.log().Warn("task killed", logx.Time("due", h.due))
	t.publish(eventbus.TaskKilled, TaskEvent{Name: t.name, Due: h.due})
	return true
}

func (t *Task) run(ctx context.Context, h *execution, action Action, opt Options) {
	start := time.Now()
	defer func() {
		h.cancel()
		t.rt.Counter.DecrementExecuting()
		t.mu.Lock()
		if t.handle == h {
			t.handle = nil
		}
		t.mu.Unlock()
		close(h.done)
	}()

	log := t.log().With(logx.Time("due", h.due))
	log.Debug("task.started")
	t.publish(eventbus.TaskStarted, TaskEvent{Name: t.name, Due: h.due, Started: start})

	var (
		value any
		err   error
	)
	if locker := t.rt.Hooks.TaskLocker; locker != nil {
		var res LockResult
		res, err = locker.LockTask(ctx, t.name, func(ctx context.Context) (any, error) {
			return t.invoke(ctx, action)
		})
		if err == nil && !res.Ran {
			log.Info("unable to establish a lock, task did not run")
			t.publish(eventbus.TaskSkipped, TaskEvent{Name: t.name, Due: h.due, Started: start, Reason: ReasonLockHeld})
			return
		}
		if err == nil {
			value, err = res.ReturnValue, res.Err
		}
	} else {
		value, err = t.invoke(ctx, action)
	}

	dur := time.Since(start)
	item := HistoryItem{Name: t.name, Due: h.due, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		t.rt.History.add(item)
		fields := []logx.Field{logx.Err(err), logx.Duration("dur", dur)}
		var pe *PanicError
		if errors.As(err, &pe) {
			fields = append(fields, logx.Stack(pe.Stack))
		}
		log.Error("task.failed", fields...)
		t.publish(eventbus.TaskFailed, TaskEvent{Name: t.name, Due: h.due, Started: start, Duration: dur, Error: item.Error})
		return
	}
	t.rt.History.add(item)
	if dur >= 750*time.Millisecond {
		log.Info("task.completed", logx.Duration("dur", dur))
	} else {
		log.Debug("task.completed", logx.Duration("dur", dur))
	}
	t.publish(eventbus.TaskFinished, TaskEvent{Name: t.name, Due: h.due, Started: start, Duration: dur})

	if opt.Save {
		t.saveResult(ctx, h.due, value)
	}
}

// invoke runs the action once, converting a panic into a *PanicError.
func (t *Task) invoke(ctx context.Context, action Action) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	switch a := action.(type) {
	case Stateful:
		prev, ok := t.loadPrevious(ctx)
		return a.RunWithPrevious(ctx, prev, ok)
	case Runner:
		return a.Run(ctx)
	default:
		return nil, ErrNilAction
	}
}

func (t *Task) loadPrevious(ctx context.Context) (any, bool) {
	loader := t.rt.Hooks.PrevResults
	if loader == nil {
		t.log().Debug("no result loader configured")
		return nil, false
	}
	v, ok, err := loader.LoadResult(ctx, t.name)
	if err != nil {
		t.log().Warn("load previous result failed", logx.Err(err))
		return nil, false
	}
	return v, ok
}

func (t *Task) saveResult(ctx context.Context, due time.Time, value any) {
	saver := t.rt.Hooks.Results
	if saver == nil {
		t.log().Debug("no result saver configured, return value dropped")
		return
	}
	rec := ResultRecord{Name: t.name, ReturnValue: value, ExecutedAt: due, ExecutedBy: t.rt.Identifier}
	if err := saver.SaveResult(context.WithoutCancel(ctx), rec); err != nil {
		t.log().Warn("save result failed", logx.Err(err))
	}
}

func (t *Task) log() logx.Logger {
	return t.rt.Log.With(logx.String("task", t.name))
}

func (t *Task) publish(typ string, ev TaskEvent) {
	if t.rt.Bus == nil {
		return
	}
	t.rt.Bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
