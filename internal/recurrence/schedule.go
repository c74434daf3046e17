package recurrence

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Timetable yields the occurrences a task fires at.
// *Schedule and *CronSchedule implement it.
type Timetable interface {
	Frequency

	// NextOccurrence returns the first occurrence strictly after now.
	NextOccurrence(now time.Time) time.Time
	// FrequencyInSeconds is used to order tasks by how often they fire.
	FrequencyInSeconds() int64
	String() string
}

var (
	_ Timetable = (*Schedule)(nil)
	_ Timetable = (*CronSchedule)(nil)
)

// Schedule is an anchor time plus exactly one Rule.
//
// Occurrences are start + k*interval for k >= 0. NextOccurrence moves the
// anchor forward to the occurrence it returns, which keeps each query O(1)
// amortized no matter how long the process has been up.
//
// Monthly and yearly schedules remember the day of month they were created
// with, so an anchor clamped to Feb 28 returns to the 31st in March.
type Schedule struct {
	mu    sync.Mutex
	start time.Time
	rule  Rule
	day   int
}

func NewSchedule(start time.Time, rule Rule) (*Schedule, error) {
	if err := rule.validate(); err != nil {
		return nil, err
	}
	if start.IsZero() {
		return nil, fmt.Errorf("%w: schedule start required", ErrInvalidFrequency)
	}
	return &Schedule{start: start, rule: rule, day: start.Day()}, nil
}

func (*Schedule) isFrequency() {}

func (s *Schedule) Start() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

func (s *Schedule) Rule() Rule { return s.rule }

func (s *Schedule) FrequencyInSeconds() int64 { return s.rule.FrequencyInSeconds() }

// NextOccurrence returns the first occurrence strictly after now and
// advances the anchor to it.
func (s *Schedule) NextOccurrence(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.rule.nextAfter(s.start, now, s.day)
	s.start = next
	return next
}

// Day is the day of month that monthly and yearly occurrences aim for.
func (s *Schedule) Day() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.day
}

// SameRules reports whether both schedules use structurally equal rules,
// ignoring the anchors.
func (s *Schedule) SameRules(o *Schedule) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.rule.Equal(o.rule)
}

func (s *Schedule) String() string {
	return fmt.Sprintf("%s from %s", s.rule, s.Start().Format(time.RFC3339))
}

type scheduleJSON struct {
	Start       time.Time `json:"start"`
	Granularity string    `json:"granularity"`
	Interval    int64     `json:"interval"`
	Day         int       `json:"day,omitempty"`
}

func (s *Schedule) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	raw := scheduleJSON{
		Start:       s.start,
		Granularity: s.rule.Granularity.String(),
		Interval:    s.rule.Interval,
		Day:         s.day,
	}
	s.mu.Unlock()
	return json.Marshal(raw)
}

func (s *Schedule) UnmarshalJSON(b []byte) error {
	var raw scheduleJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	g, err := ParseGranularity(raw.Granularity)
	if err != nil {
		return err
	}
	rule := Rule{Granularity: g, Interval: raw.Interval}
	if err := rule.validate(); err != nil {
		return err
	}
	day := raw.Day
	if day <= 0 || day > 31 {
		day = raw.Start.Day()
	}
	s.mu.Lock()
	s.start = raw.Start
	s.rule = rule
	s.day = day
	s.mu.Unlock()
	return nil
}

// DecodeSchedule parses the JSON form produced by MarshalJSON.
func DecodeSchedule(b []byte) (*Schedule, error) {
	s := &Schedule{}
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if s.start.IsZero() {
		return nil, fmt.Errorf("decode schedule: start missing")
	}
	return s, nil
}
