package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Frequency is the input to schedule creation: Seconds, a Rule, or a
// prebuilt Timetable (*Schedule, *CronSchedule) the caller fully controls.
type Frequency interface {
	isFrequency()
}

// Seconds is a raw period.
type Seconds int64

func (Seconds) isFrequency() {}

// Every converts a duration to Seconds, dropping sub-second precision.
func Every(d time.Duration) Seconds { return Seconds(d / time.Second) }

func (s Seconds) Duration() time.Duration { return time.Duration(s) * time.Second }

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reCalendar = regexp.MustCompile(`^(\d+)\s*(d|day|days|w|wk|week|weeks|mo|month|months|y|yr|year|years)$`)
)

// ParseFrequency parses the frequency forms accepted in task definitions.
//
// Supported forms:
//   - Go duration: "30s", "15m", "2h30m"
//   - Calendar units: "3d", "2w", "3mo", "1y"
//   - Plain seconds: "90"
//   - Interval HH:MM: "02:30" (2 hours 30 minutes)
//   - "@every <duration>"
//   - Cron: "cron:0 */5 * * * *", "@daily", "*/5 * * * *"
func ParseFrequency(raw string) (Frequency, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: frequency required", ErrInvalidFrequency)
	}
	low := strings.ToLower(s)

	if strings.HasPrefix(low, "cron:") {
		return ParseCron(s[len("cron:"):])
	}
	if strings.HasPrefix(low, "@every") {
		return parseSeconds(strings.TrimSpace(s[len("@every"):]))
	}
	// Any whitespace or leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParseCron(s)
	}
	return parseSeconds(s)
}

func parseSeconds(s string) (Frequency, error) {
	low := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.ParseInt(low, 10, 64); err == nil {
		return positive(n, s)
	}
	if m := reHHMM.FindStringSubmatch(low); len(m) == 3 {
		hh, _ := strconv.ParseInt(m[1], 10, 64)
		mm, _ := strconv.ParseInt(m[2], 10, 64)
		if mm > 59 {
			return nil, fmt.Errorf("%w: invalid minutes in %q", ErrInvalidFrequency, s)
		}
		return positive(hh*SecondsPerHour+mm*SecondsPerMinute, s)
	}
	if m := reCalendar.FindStringSubmatch(low); len(m) == 3 {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		var unit int64
		switch m[2][0] {
		case 'd':
			unit = SecondsPerDay
		case 'w':
			unit = SecondsPerWeek
		case 'm':
			unit = SecondsPerMonth
		default:
			unit = SecondsPerYear
		}
		return positive(n*unit, s)
	}
	d, err := time.ParseDuration(low)
	if err != nil {
		return nil, fmt.Errorf("%w: %q (use a duration like '15m', '3d', 'HH:MM' or a cron expression)", ErrInvalidFrequency, s)
	}
	if d%time.Second != 0 {
		return nil, fmt.Errorf("%w: %q has sub-second precision", ErrInvalidFrequency, s)
	}
	return positive(int64(d/time.Second), s)
}

func positive(n int64, raw string) (Frequency, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %q must be > 0", ErrInvalidFrequency, raw)
	}
	return Seconds(n), nil
}
