package storage

import (
	"context"
	"errors"
	"time"

	"recurrent/internal/task/engine"
	"recurrent/internal/task/scheduler"
	logx "recurrent/pkg/logx"
)

// ProcessLockKey is the lease that guards the whole worker loop.
const ProcessLockKey = "process"

// HookOptions selects which hooks Hooks wires to the store.
type HookOptions struct {
	Owner       string
	TTL         time.Duration // lease length; renewed at a third of it. Default 30s.
	TaskLocking bool
	ProcessLock bool
	Log         logx.Logger
}

// Hooks adapts st to the scheduler hooks: schedule and result persistence,
// plus task and process locking when requested.
func Hooks(st Store, opt HookOptions) scheduler.Hooks {
	h := scheduler.Hooks{
		ScheduleSaver:  st,
		ScheduleLoader: st,
		Task: engine.Hooks{
			Results:     st,
			PrevResults: st,
		},
	}
	l := &Locker{store: st, owner: opt.Owner, ttl: opt.TTL, log: opt.Log}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	if opt.TaskLocking {
		h.Task.TaskLocker = l
	}
	if opt.ProcessLock {
		h.ProcessLocker = l
	}
	return h
}

// Locker runs functions while holding a store lease, renewing it until the
// function returns. If a renewal fails the function's context is cancelled.
type Locker struct {
	store Store
	owner string
	ttl   time.Duration
	log   logx.Logger
}

func NewLocker(st Store, owner string, ttl time.Duration, log logx.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Locker{store: st, owner: owner, ttl: ttl, log: log}
}

func (l *Locker) LockTask(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (engine.LockResult, error) {
	var (
		v      any
		runErr error
	)
	ran, err := l.hold(ctx, "task:"+name, func(ctx context.Context) {
		v, runErr = fn(ctx)
	})
	if err != nil || !ran {
		return engine.LockResult{}, err
	}
	return engine.LockResult{Ran: true, ReturnValue: v, Err: runErr}, nil
}

func (l *Locker) LockProcess(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	var runErr error
	ran, err := l.hold(ctx, ProcessLockKey, func(ctx context.Context) {
		runErr = fn(ctx)
	})
	if err != nil {
		return false, err
	}
	return ran, runErr
}

func (l *Locker) hold(ctx context.Context, key string, fn func(ctx context.Context)) (bool, error) {
	if err := l.store.TryLock(ctx, key, l.owner, l.ttl); err != nil {
		if errors.Is(err, ErrLockHeld) {
			return false, nil
		}
		return false, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		tk := time.NewTicker(l.ttl / 3)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				if err := l.store.TryLock(context.WithoutCancel(ctx), key, l.owner, l.ttl); err != nil {
					l.log.Warn("lease lost", logx.String("key", key), logx.Err(err))
					cancel()
					return
				}
			}
		}
	}()

	fn(runCtx)
	close(stop)
	<-renewed
	cancel()

	uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer ucancel()
	if err := l.store.Unlock(uctx, key, l.owner); err != nil {
		l.log.Warn("lease release failed", logx.String("key", key), logx.Err(err))
	}
	return true, nil
}
