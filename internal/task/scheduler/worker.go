package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "recurrent/pkg/logx"
)

// State is the worker's position in its control loop.
type State int32

const (
	StateIdle State = iota
	StateAcquiringLock
	StateWaiting
	StateDispatching
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringLock:
		return "acquiring_lock"
	case StateWaiting:
		return "waiting"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	errStandby  = errors.New("process lock held by another process")
	errLockLost = errors.New("process lock lost")
)

// Worker runs the scheduler's control loop until its context is cancelled,
// then drains running executions according to the drain policy.
type Worker struct {
	s     *Scheduler
	log   logx.Logger
	state atomic.Int32

	// drainStep is the countdown tick of a bounded drain.
	drainStep time.Duration
}

func NewWorker(s *Scheduler) *Worker {
	return &Worker{
		s:         s,
		log:       s.log.With(logx.String("comp", "worker")),
		drainStep: time.Second,
	}
}

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(st State) { w.state.Store(int32(st)) }

// Run blocks until ctx is cancelled and running tasks are drained. With a
// ProcessLocker configured the loop only runs while this process holds the
// lock; otherwise it stands by and retries.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("starting recurrent",
		logx.Int("tasks", w.s.registry.Len()),
		logx.Int("max_concurrency", w.s.cfg.MaxConcurrency),
		logx.String("drain", w.s.cfg.Drain.String()))
	defer func() {
		w.setState(StateStopped)
		w.log.Info("goodbye")
	}()

	if setup := w.s.hooks.Setup; setup != nil {
		if err := setup(ctx); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	if pl := w.s.hooks.ProcessLocker; pl != nil {
		return w.runLocked(ctx, pl)
	}
	w.loop(ctx)
	return nil
}

func (w *Worker) runLocked(ctx context.Context, pl ProcessLocker) error {
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		w.setState(StateAcquiringLock)
		acquired, err := pl.LockProcess(ctx, func(ctx context.Context) error {
			w.log.Info("process lock acquired")
			w.loop(ctx)
			return nil
		})
		if err != nil {
			return err
		}
		if !acquired {
			return errStandby
		}
		if ctx.Err() == nil {
			// The locked run ended on its own: the lease is gone.
			return errLockLost
		}
		return nil
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(w.s.cfg.LockBackoff), ctx)
	err := backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		if errors.Is(err, errStandby) {
			w.log.Info("tasks are being monitored by another process, standing by", logx.Duration("retry_in", d))
			return
		}
		if errors.Is(err, errLockLost) {
			w.log.Warn("process lock lost, reacquiring", logx.Duration("retry_in", d))
			return
		}
		w.log.Warn("process lock failed", logx.Err(err), logx.Duration("retry_in", d))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) {
	reg := w.s.registry
	for ctx.Err() == nil {
		due, ok := reg.NextExecutionTime(w.s.Now())
		if !ok {
			w.setState(StateIdle)
			if !w.sleep(ctx, w.s.cfg.PollInterval) {
				break
			}
			continue
		}

		w.setState(StateWaiting)
		if !w.waitUntil(ctx, due) {
			break
		}
		if w.s.Now().Before(due) {
			// An earlier occurrence was registered while waiting.
			continue
		}

		w.setState(StateDispatching)
		for _, t := range w.s.TasksAt(due) {
			w.log.Info("executing", logx.String("task", t.Name()), logx.Time("due", due))
			t.Execute(ctx, due)
		}
	}
	w.drain()
}

// waitUntil sleeps in poll-sized steps until due has passed. It returns
// early when an earlier occurrence appears and false once ctx is done.
func (w *Worker) waitUntil(ctx context.Context, due time.Time) bool {
	for {
		now := w.s.Now()
		if !now.Before(due) {
			return true
		}
		if next, ok := w.s.registry.NextExecutionTime(now); ok && next.Before(due) {
			return true
		}
		step := due.Sub(now)
		if step > w.s.cfg.PollInterval {
			step = w.s.cfg.PollInterval
		}
		if !w.sleep(ctx, step) {
			return false
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}

func (w *Worker) drain() {
	w.setState(StateDraining)
	if w.s.cfg.Drain.Bounded() {
		w.drainBounded(w.s.cfg.Drain.Timeout())
	} else {
		w.drainIndefinitely()
	}
	w.log.Info("all tasks finished, exiting")
}

func (w *Worker) drainIndefinitely() {
	for {
		running := w.s.RunningTasks()
		if len(running) == 0 {
			return
		}
		t := running[0]
		w.log.Info("waiting for task to finish", logx.String("task", t.Name()))
		_ = t.Wait(context.Background())
	}
}

func (w *Worker) drainBounded(timeout time.Duration) {
	remaining := int(math.Ceil(float64(timeout) / float64(w.drainStep)))
	for {
		running := w.s.RunningTasks()
		if len(running) == 0 {
			return
		}
		if remaining <= 0 {
			for _, t := range running {
				w.log.Warn("drain timeout exceeded, killing task", logx.String("task", t.Name()))
				t.Kill()
			}
			return
		}
		w.log.Info("killing running tasks soon",
			logx.Int("running", len(running)),
			logx.Duration("in", time.Duration(remaining)*w.drainStep))
		time.Sleep(w.drainStep)
		remaining--
	}
}
