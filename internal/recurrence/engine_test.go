package recurrence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDeriveStartTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2011, 7, 26, 11, 35, 12, 0, time.Local)
	tests := []struct {
		name    string
		seconds int64
		want    time.Time
	}{
		{name: "under a minute", seconds: 30, want: time.Date(2011, 7, 26, 11, 35, 0, 0, time.Local)},
		{name: "under an hour", seconds: 15 * SecondsPerMinute, want: time.Date(2011, 7, 26, 11, 0, 0, 0, time.Local)},
		{name: "under a day", seconds: 3 * SecondsPerHour, want: time.Date(2011, 7, 26, 0, 0, 0, 0, time.Local)},
		{name: "under a week", seconds: 3 * SecondsPerDay, want: time.Date(2011, 7, 25, 0, 0, 0, 0, time.Local)},
		{name: "under a month", seconds: 10 * SecondsPerDay, want: time.Date(2011, 7, 1, 0, 0, 0, 0, time.Local)},
		{name: "under a year", seconds: 2 * SecondsPerMonth, want: time.Date(2011, 1, 1, 0, 0, 0, 0, time.Local)},
		{name: "years", seconds: 2 * SecondsPerYear, want: time.Date(2011, 1, 1, 0, 0, 0, 0, time.Local)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DeriveStartTime(tt.seconds, now); !got.Equal(tt.want) {
				t.Fatalf("DeriveStartTime(%d) = %v, want %v", tt.seconds, got, tt.want)
			}
		})
	}
}

func TestDeriveStartTimeWeekStartsMonday(t *testing.T) {
	t.Parallel()
	sunday := time.Date(2011, 7, 31, 9, 0, 0, 0, time.UTC)
	if got, want := DeriveStartTime(2*SecondsPerDay, sunday), time.Date(2011, 7, 25, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("DeriveStartTime on Sunday = %v, want %v", got, want)
	}
}

type fakeStore struct {
	mu    sync.Mutex
	saved map[string]*Schedule
	saves int
	err   error
}

func (f *fakeStore) LoadSchedule(_ context.Context, name string) (*Schedule, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	s, ok := f.saved[name]
	return s, ok, nil
}

func (f *fakeStore) SaveSchedule(_ context.Context, name string, s *Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return f.err
}

type countingDeriver struct {
	mu    sync.Mutex
	calls int
}

func (c *countingDeriver) DeriveStartTime(seconds int64, now time.Time) time.Time {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return DeriveStartTime(seconds, now)
}

func (c *countingDeriver) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestCreateScheduleFromSeconds(t *testing.T) {
	t.Parallel()
	d := &countingDeriver{}
	e := &Engine{Deriver: d}
	tt, err := e.CreateSchedule(context.Background(), "test", Seconds(SecondsPerDay), nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	s, ok := tt.(*Schedule)
	if !ok {
		t.Fatalf("CreateSchedule returned %T, want *Schedule", tt)
	}
	if !s.Rule().Equal(Rule{Daily, 1}) {
		t.Fatalf("rule = %v, want daily", s.Rule())
	}
	if d.Calls() != 1 {
		t.Fatalf("deriver calls = %d, want 1", d.Calls())
	}
}

func TestCreateScheduleFromRule(t *testing.T) {
	t.Parallel()
	e := &Engine{}
	tt, err := e.CreateSchedule(context.Background(), "test", Rule{Daily, 1}, nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if s := tt.(*Schedule); !s.Rule().Equal(Rule{Daily, 1}) {
		t.Fatalf("rule = %v, want daily", s.Rule())
	}
}

func TestCreateScheduleExplicitStartSkipsDerive(t *testing.T) {
	t.Parallel()
	d := &countingDeriver{}
	e := &Engine{Deriver: d}
	start := time.Now().Truncate(time.Second)
	tt, err := e.CreateSchedule(context.Background(), "test", Seconds(SecondsPerDay), &start)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if d.Calls() != 0 {
		t.Fatalf("deriver calls = %d, want 0", d.Calls())
	}
	if got := tt.(*Schedule).Start(); !got.Equal(start) {
		t.Fatalf("start = %v, want %v", got, start)
	}
}

func TestCreateSchedulePassesTimetablesThrough(t *testing.T) {
	t.Parallel()
	store := &fakeStore{saved: map[string]*Schedule{}}
	e := &Engine{Loader: store, Saver: store}
	prebuilt, _ := NewSchedule(time.Now(), Rule{Minutely, 5})
	got, err := e.CreateSchedule(context.Background(), "test", prebuilt, nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if got != Timetable(prebuilt) {
		t.Fatal("prebuilt schedule was not returned unchanged")
	}
	c, _ := ParseCron("@hourly")
	if got, _ := e.CreateSchedule(context.Background(), "cron", c, nil); got != Timetable(c) {
		t.Fatal("cron schedule was not returned unchanged")
	}
	if store.saves != 0 {
		t.Fatalf("saves = %d, want 0 for caller-controlled schedules", store.saves)
	}
}

func TestCreateScheduleReconcilesWithSavedSchedule(t *testing.T) {
	t.Parallel()
	now := time.Now().Truncate(time.Second)
	saved, _ := NewSchedule(now.Add(-3*time.Second), Rule{Secondly, 10})
	store := &fakeStore{saved: map[string]*Schedule{"test": saved}}

	t.Run("same frequency adopts saved phase", func(t *testing.T) {
		d := &countingDeriver{}
		e := &Engine{Loader: store, Deriver: d, Now: func() time.Time { return now }}
		ref, _ := NewSchedule(now.Add(-3*time.Second), Rule{Secondly, 10})
		want := ref.NextOccurrence(now)
		tt, err := e.CreateSchedule(context.Background(), "test", Seconds(10), nil)
		if err != nil {
			t.Fatalf("CreateSchedule: %v", err)
		}
		if d.Calls() != 0 {
			t.Fatalf("deriver calls = %d, want 0", d.Calls())
		}
		if got := tt.NextOccurrence(now); !got.Equal(want) {
			t.Fatalf("next occurrence = %v, want saved %v", got, want)
		}
	})

	t.Run("different frequency derives", func(t *testing.T) {
		d := &countingDeriver{}
		e := &Engine{Loader: store, Deriver: d, Now: func() time.Time { return now }}
		if _, err := e.CreateSchedule(context.Background(), "test", Seconds(15), nil); err != nil {
			t.Fatalf("CreateSchedule: %v", err)
		}
		if d.Calls() != 1 {
			t.Fatalf("deriver calls = %d, want 1", d.Calls())
		}
	})

	t.Run("no saved schedule derives", func(t *testing.T) {
		d := &countingDeriver{}
		e := &Engine{Loader: store, Deriver: d, Now: func() time.Time { return now }}
		if _, err := e.CreateSchedule(context.Background(), "new_test", Seconds(10), nil); err != nil {
			t.Fatalf("CreateSchedule: %v", err)
		}
		if d.Calls() != 1 {
			t.Fatalf("deriver calls = %d, want 1", d.Calls())
		}
	})
}

func TestCreateScheduleSaveFailureDoesNotAbort(t *testing.T) {
	t.Parallel()
	store := &fakeStore{err: errors.New("disk full")}
	e := &Engine{Saver: store}
	if _, err := e.CreateSchedule(context.Background(), "test", Seconds(60), nil); err != nil {
		t.Fatalf("CreateSchedule should ignore save errors, got %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
}

func TestCreateScheduleRejectsMalformedFrequency(t *testing.T) {
	t.Parallel()
	e := &Engine{}
	for _, f := range []Frequency{Seconds(0), Seconds(-5), Rule{Daily, 0}, nil} {
		if _, err := e.CreateSchedule(context.Background(), "bad", f, nil); !errors.Is(err, ErrInvalidFrequency) {
			t.Fatalf("CreateSchedule(%v) err = %v, want ErrInvalidFrequency", f, err)
		}
	}
}
