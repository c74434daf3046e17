package scheduler

import (
	"context"
	"time"

	"recurrent/internal/recurrence"
	"recurrent/internal/task/engine"
)

// Config controls the scheduler and its worker loop.
type Config struct {
	// PollInterval bounds how long the worker sleeps between checks.
	// Default 500ms.
	PollInterval time.Duration
	// MaxConcurrency caps executions in flight across all tasks.
	// Zero means unlimited. Occurrences over the cap are dropped.
	MaxConcurrency int
	Drain          DrainPolicy
	// LockBackoff is the wait between process lock attempts. Default 5s.
	LockBackoff time.Duration
	// SortByFrequency dispatches the most frequent due task first.
	SortByFrequency bool
	Timezone        string // IANA TZ, e.g. "Europe/Berlin"; empty means local
	HistorySize     int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.LockBackoff <= 0 {
		c.LockBackoff = 5 * time.Second
	}
	if c.MaxConcurrency < 0 {
		c.MaxConcurrency = 0
	}
	return c
}

// DrainPolicy decides how running executions are treated on shutdown.
type DrainPolicy struct {
	bounded bool
	timeout time.Duration
}

// DrainIndefinite waits for every running execution to finish.
func DrainIndefinite() DrainPolicy { return DrainPolicy{} }

// DrainBounded waits up to d, then kills whatever is still running.
func DrainBounded(d time.Duration) DrainPolicy {
	if d < 0 {
		d = 0
	}
	return DrainPolicy{bounded: true, timeout: d}
}

func (p DrainPolicy) Bounded() bool          { return p.bounded }
func (p DrainPolicy) Timeout() time.Duration { return p.timeout }

func (p DrainPolicy) String() string {
	if !p.bounded {
		return "indefinite"
	}
	return "bounded(" + p.timeout.String() + ")"
}

// ProcessLocker runs the whole worker loop under a process-wide lock.
// It reports false without calling fn when another process holds the lock.
type ProcessLocker interface {
	LockProcess(ctx context.Context, fn func(ctx context.Context) error) (acquired bool, err error)
}

type ProcessLockerFunc func(ctx context.Context, fn func(ctx context.Context) error) (bool, error)

func (f ProcessLockerFunc) LockProcess(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	return f(ctx, fn)
}

// Hooks are the optional integration points. Nil members are skipped.
type Hooks struct {
	ScheduleSaver  recurrence.ScheduleSaver
	ScheduleLoader recurrence.ScheduleLoader
	Task           engine.Hooks
	ProcessLocker  ProcessLocker
	// Setup runs once before the worker loop starts.
	Setup func(ctx context.Context) error
}

// Options are the per-registration options of Every.
type Options struct {
	// StartTime anchors the schedule. Zero derives an aligned anchor.
	StartTime time.Time
	Save      bool
	Timeout   time.Duration
}

type HistoryItem = engine.HistoryItem

type TaskInfo struct {
	Name      string
	Timetable string
	Frequency int64
	Next      time.Time
	Running   bool
	Save      bool
}

type Snapshot struct {
	Identifier     string
	Timezone       string
	Executing      int
	MaxConcurrency int
	Drain          string
	Tasks          []TaskInfo
	History        []HistoryItem
}
