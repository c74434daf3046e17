package recurrence

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestRuleFromFrequencyUnits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		seconds int64
		want    Rule
	}{
		{name: "two years", seconds: 2 * SecondsPerYear, want: Rule{Yearly, 2}},
		{name: "three months", seconds: 3 * SecondsPerMonth, want: Rule{Monthly, 3}},
		{name: "two weeks", seconds: 2 * SecondsPerWeek, want: Rule{Weekly, 2}},
		{name: "two days", seconds: 2 * SecondsPerDay, want: Rule{Daily, 2}},
		{name: "three days", seconds: 3 * SecondsPerDay, want: Rule{Daily, 3}},
		{name: "six hours", seconds: 6 * SecondsPerHour, want: Rule{Hourly, 6}},
		{name: "ten minutes", seconds: 10 * SecondsPerMinute, want: Rule{Minutely, 10}},
		{name: "thirty seconds", seconds: 30, want: Rule{Secondly, 30}},
		{name: "ninety seconds", seconds: 90, want: Rule{Secondly, 90}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := RuleFromFrequency(tt.seconds)
			if err != nil {
				t.Fatalf("RuleFromFrequency(%d) error: %v", tt.seconds, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("RuleFromFrequency(%d) = %v, want %v", tt.seconds, got, tt.want)
			}
		})
	}
}

func TestRuleFromFrequencyRejectsNonPositive(t *testing.T) {
	t.Parallel()
	for _, s := range []int64{0, -1, -86400} {
		if _, err := RuleFromFrequency(s); !errors.Is(err, ErrInvalidFrequency) {
			t.Fatalf("RuleFromFrequency(%d) err = %v, want ErrInvalidFrequency", s, err)
		}
	}
}

// The chosen unit always divides the input, no larger unit does, and the
// period is preserved.
func TestRuleFromFrequencyPicksLargestDividingUnit(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		seconds := rapid.Int64Range(1, 10*SecondsPerYear).Draw(rt, "seconds")

		rule, err := RuleFromFrequency(seconds)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if rule.FrequencyInSeconds() != seconds {
			rt.Fatalf("period = %d, want %d", rule.FrequencyInSeconds(), seconds)
		}
		for _, g := range ruleOrder {
			if g <= rule.Granularity {
				break
			}
			if seconds%g.Seconds() == 0 {
				rt.Fatalf("%d divides by %s but got %s", seconds, g, rule.Granularity)
			}
		}
	})
}

func TestRuleNextAfterCalendarUnits(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2011, 1, 31, 0, 0, 0, 0, time.UTC)
	now := time.Date(2011, 7, 26, 11, 35, 12, 0, time.UTC)

	got := Rule{Monthly, 1}.nextAfter(anchor, now, 0)
	if !got.After(now) {
		t.Fatalf("monthly next %v not after %v", got, now)
	}
	if got.Month() != time.July && got.Month() != time.August {
		t.Fatalf("monthly next = %v, want late July or early August", got)
	}

	got = Rule{Yearly, 1}.nextAfter(time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC), now, 0)
	if want := time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("yearly next = %v, want %v", got, want)
	}

	got = Rule{Weekly, 2}.nextAfter(time.Date(2011, 7, 4, 0, 0, 0, 0, time.UTC), now, 0)
	if want := time.Date(2011, 8, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("biweekly next = %v, want %v", got, want)
	}
}
