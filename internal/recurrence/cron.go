package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser allows both 5-field and 6-field (with seconds) specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSchedule is a caller-controlled Timetable backed by a cron expression.
// It is never reconciled with or written to schedule persistence.
type CronSchedule struct {
	spec  string
	sched cron.Schedule
}

func ParseCron(spec string) (*CronSchedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("%w: cron spec required", ErrInvalidFrequency)
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", ErrInvalidFrequency, spec, err)
	}
	if sched.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("%w: cron %q never fires", ErrInvalidFrequency, spec)
	}
	return &CronSchedule{spec: spec, sched: sched}, nil
}

func (*CronSchedule) isFrequency() {}

// NextOccurrence returns the zero time when the expression has no firing
// left within the cron search window.
func (c *CronSchedule) NextOccurrence(now time.Time) time.Time { return c.sched.Next(now) }

// FrequencyInSeconds approximates the period by the gap between the next two
// firings.
func (c *CronSchedule) FrequencyInSeconds() int64 {
	a := c.sched.Next(time.Now())
	if a.IsZero() {
		return 0
	}
	b := c.sched.Next(a)
	if b.IsZero() {
		return 0
	}
	return int64(b.Sub(a) / time.Second)
}

func (c *CronSchedule) String() string { return "cron " + c.spec }
