package recurrence

import (
	"context"
	"fmt"
	"time"

	logx "recurrent/pkg/logx"
)

// ScheduleLoader returns the schedule persisted for name, if any.
type ScheduleLoader interface {
	LoadSchedule(ctx context.Context, name string) (sched *Schedule, ok bool, err error)
}

// ScheduleSaver persists a freshly created schedule. Fire-and-forget:
// failures are logged and never abort schedule creation.
type ScheduleSaver interface {
	SaveSchedule(ctx context.Context, name string, sched *Schedule) error
}

// Deriver picks the anchor of a fresh schedule.
type Deriver interface {
	DeriveStartTime(seconds int64, now time.Time) time.Time
}

type DeriverFunc func(seconds int64, now time.Time) time.Time

func (f DeriverFunc) DeriveStartTime(seconds int64, now time.Time) time.Time { return f(seconds, now) }

// DeriveStartTime truncates now to the start of the smallest period that
// encloses the frequency, so tasks registered independently with the same
// frequency fire in phase. Weeks start on Monday.
func DeriveStartTime(seconds int64, now time.Time) time.Time {
	y, mo, d := now.Date()
	loc := now.Location()
	switch {
	case seconds < SecondsPerMinute:
		return time.Date(y, mo, d, now.Hour(), now.Minute(), 0, 0, loc)
	case seconds < SecondsPerHour:
		return time.Date(y, mo, d, now.Hour(), 0, 0, 0, loc)
	case seconds < SecondsPerDay:
		return time.Date(y, mo, d, 0, 0, 0, 0, loc)
	case seconds < SecondsPerWeek:
		sinceMonday := (int(now.Weekday()) + 6) % 7
		return time.Date(y, mo, d-sinceMonday, 0, 0, 0, 0, loc)
	case seconds < SecondsPerMonth:
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	}
}

// Engine creates schedules and reconciles them with persisted ones.
// The zero value works: no persistence, DeriveStartTime, wall clock.
type Engine struct {
	Loader  ScheduleLoader
	Saver   ScheduleSaver
	Deriver Deriver
	Now     func() time.Time
	Log     logx.Logger
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) log() logx.Logger {
	if e.Log.IsZero() {
		return logx.Nop()
	}
	return e.Log
}

// CreateSchedule turns a frequency into a Timetable for the task name.
//
// Prebuilt timetables are returned unchanged. Otherwise the anchor is start
// when given, else derived from the frequency. If a saved schedule for name
// has the same period, its next occurrence becomes the anchor so a restart
// does not shift the task's phase.
func (e *Engine) CreateSchedule(ctx context.Context, name string, freq Frequency, start *time.Time) (Timetable, error) {
	var rule Rule
	switch f := freq.(type) {
	case nil:
		return nil, fmt.Errorf("%w: frequency required", ErrInvalidFrequency)
	case *Schedule:
		if f == nil {
			return nil, fmt.Errorf("%w: nil schedule", ErrInvalidFrequency)
		}
		return f, nil
	case *CronSchedule:
		if f == nil {
			return nil, fmt.Errorf("%w: nil cron schedule", ErrInvalidFrequency)
		}
		return f, nil
	case Seconds:
		r, err := RuleFromFrequency(int64(f))
		if err != nil {
			return nil, err
		}
		rule = r
	case Rule:
		if err := f.validate(); err != nil {
			return nil, err
		}
		rule = f
	default:
		return nil, fmt.Errorf("%w: unsupported frequency %T", ErrInvalidFrequency, freq)
	}

	now := e.now()
	log := e.log().With(logx.String("task", name))

	var (
		anchor  time.Time
		day     int
		derived bool
	)
	if start != nil && !start.IsZero() {
		anchor = *start
	}

	if e.Loader != nil {
		saved, ok, err := e.Loader.LoadSchedule(ctx, name)
		switch {
		case err != nil:
			log.Warn("load saved schedule failed", logx.Err(err))
		case ok && saved != nil && saved.FrequencyInSeconds() == rule.FrequencyInSeconds():
			anchor = saved.NextOccurrence(now)
			day = saved.Day()
			log.Debug("schedule resumed from saved phase", logx.Time("anchor", anchor))
		case ok && saved != nil:
			log.Info("saved schedule has a different frequency; deriving a new one",
				logx.Int64("saved_seconds", saved.FrequencyInSeconds()),
				logx.Int64("seconds", rule.FrequencyInSeconds()))
		}
	}

	if anchor.IsZero() {
		d := e.Deriver
		if d == nil {
			d = DeriverFunc(DeriveStartTime)
		}
		anchor = d.DeriveStartTime(rule.FrequencyInSeconds(), now)
		derived = true
	}

	sched, err := NewSchedule(anchor, rule)
	if err != nil {
		return nil, err
	}
	if day > 0 {
		sched.day = day
	}

	if e.Saver != nil {
		if err := e.Saver.SaveSchedule(ctx, name, sched); err != nil {
			log.Warn("save schedule failed", logx.Err(err))
		}
	}

	log.Debug("schedule created", logx.String("rule", rule.String()), logx.Time("anchor", anchor), logx.Bool("derived", derived))
	return sched, nil
}
