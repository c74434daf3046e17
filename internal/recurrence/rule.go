package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidFrequency = errors.New("invalid frequency")

// Granularity is the unit a Rule counts in.
type Granularity int

const (
	Secondly Granularity = iota
	Minutely
	Hourly
	Daily
	Weekly
	Monthly
	Yearly
)

// Unit lengths in seconds. Months and years use the same fixed lengths as
// the period comparison in FrequencyInSeconds.
const (
	SecondsPerMinute int64 = 60
	SecondsPerHour   int64 = 60 * SecondsPerMinute
	SecondsPerDay    int64 = 24 * SecondsPerHour
	SecondsPerWeek   int64 = 7 * SecondsPerDay
	SecondsPerMonth  int64 = 30 * SecondsPerDay
	SecondsPerYear   int64 = 365*SecondsPerDay + SecondsPerDay/4
)

var granularityNames = [...]string{"second", "minute", "hour", "day", "week", "month", "year"}

func (g Granularity) String() string {
	if g < Secondly || g > Yearly {
		return fmt.Sprintf("granularity(%d)", int(g))
	}
	return granularityNames[g]
}

// Seconds returns the length of one unit.
func (g Granularity) Seconds() int64 {
	switch g {
	case Yearly:
		return SecondsPerYear
	case Monthly:
		return SecondsPerMonth
	case Weekly:
		return SecondsPerWeek
	case Daily:
		return SecondsPerDay
	case Hourly:
		return SecondsPerHour
	case Minutely:
		return SecondsPerMinute
	default:
		return 1
	}
}

// ParseGranularity accepts the names produced by String (optionally plural).
func ParseGranularity(s string) (Granularity, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	for i, n := range granularityNames {
		if n == s {
			return Granularity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown granularity %q", s)
}

// Rule means "every Interval units of Granularity". Rules compare structurally.
type Rule struct {
	Granularity Granularity
	Interval    int64
}

func (Rule) isFrequency() {}

func (r Rule) Equal(o Rule) bool {
	return r.Granularity == o.Granularity && r.Interval == o.Interval
}

// FrequencyInSeconds is the rule's period, used to compare rules across runs.
func (r Rule) FrequencyInSeconds() int64 {
	return r.Interval * r.Granularity.Seconds()
}

func (r Rule) String() string {
	if r.Interval == 1 {
		return "every " + r.Granularity.String()
	}
	return fmt.Sprintf("every %d %ss", r.Interval, r.Granularity)
}

func (r Rule) validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %d", ErrInvalidFrequency, r.Interval)
	}
	if r.Granularity < Secondly || r.Granularity > Yearly {
		return fmt.Errorf("%w: %s", ErrInvalidFrequency, r.Granularity)
	}
	return nil
}

// ruleOrder is checked largest unit first: a duration of exactly two days
// must become a daily rule with interval 2, not an hourly rule with 48.
var ruleOrder = [...]Granularity{Yearly, Monthly, Weekly, Daily, Hourly, Minutely}

// RuleFromFrequency picks the largest unit that evenly divides seconds.
// If none does, the result is a secondly rule.
func RuleFromFrequency(seconds int64) (Rule, error) {
	if seconds <= 0 {
		return Rule{}, fmt.Errorf("%w: %ds must be > 0", ErrInvalidFrequency, seconds)
	}
	for _, g := range ruleOrder {
		if unit := g.Seconds(); seconds%unit == 0 {
			return Rule{Granularity: g, Interval: seconds / unit}, nil
		}
	}
	return Rule{Granularity: Secondly, Interval: seconds}, nil
}

// nextAfter returns the first of anchor + k*interval (k >= 0) that is
// strictly after now. Monthly and yearly steps land on day, clamped to the
// length of the target month; day <= 0 means the anchor's day.
func (r Rule) nextAfter(anchor, now time.Time, day int) time.Time {
	if anchor.After(now) {
		return anchor
	}
	switch r.Granularity {
	case Secondly, Minutely, Hourly:
		step := time.Duration(r.FrequencyInSeconds()) * time.Second
		k := now.Sub(anchor)/step + 1
		return anchor.Add(k * step)
	case Daily, Weekly:
		days := int(r.Interval)
		if r.Granularity == Weekly {
			days *= 7
		}
		est := int(now.Sub(anchor).Hours()/24) / days
		return walk(anchor, now, est, func(k int) time.Time { return anchor.AddDate(0, 0, k*days) })
	default:
		months := int(r.Interval)
		if r.Granularity == Yearly {
			months *= 12
		}
		diff := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
		est := diff / months
		return walk(anchor, now, est, func(k int) time.Time { return addMonths(anchor, k*months, day) })
	}
}

// walk corrects an estimated step count for calendar units, where DST and
// month lengths make the estimate off by one in either direction.
func walk(anchor, now time.Time, k int, at func(int) time.Time) time.Time {
	if k < 0 {
		k = 0
	}
	t := at(k)
	for k > 0 && t.After(now) {
		k--
		t = at(k)
	}
	for !t.After(now) {
		k++
		t = at(k)
	}
	return t
}

// addMonths moves t forward n months onto day, clamped to the month's last
// day, keeping the time of day.
func addMonths(t time.Time, n, day int) time.Time {
	if day <= 0 {
		day = t.Day()
	}
	m := int(t.Month()) - 1 + n
	y := t.Year() + m/12
	month := time.Month(m%12 + 1)
	if last := time.Date(y, month+1, 0, 0, 0, 0, 0, time.UTC).Day(); day > last {
		day = last
	}
	return time.Date(y, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
