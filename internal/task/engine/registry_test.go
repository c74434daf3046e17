package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/gomega"

	"recurrent/internal/recurrence"
)

// exhausted is a timetable with no occurrence left.
type exhausted struct{ recurrence.Seconds }

func (exhausted) NextOccurrence(time.Time) time.Time { return time.Time{} }
func (exhausted) FrequencyInSeconds() int64         { return 60 }
func (exhausted) String() string                    { return "never" }

func TestRegistryAddOrUpdateKeepsIdentity(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	orig, _ := NewTask("sync", everySeconds(t, start, 60), Func(noop), Options{}, nil)
	if got := r.AddOrUpdate(orig); got != orig {
		t.Fatal("first add should store the task itself")
	}
	repl, _ := NewTask("sync", everySeconds(t, start, 30), Func(noop), Options{Save: true}, nil)
	if got := r.AddOrUpdate(repl); got != orig {
		t.Fatal("update should keep the stored task")
	}
	if r.Len() != 1 {
		t.Fatalf("len=%d want 1", r.Len())
	}
	if f := orig.FrequencyInSeconds(); f != 30 {
		t.Fatalf("frequency=%d want 30", f)
	}
	if !orig.Save() {
		t.Fatal("options should be replaced")
	}
}

func TestRegistryDueTasksSortedByFrequency(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, spec := range []struct {
		name string
		secs int64
	}{{"hourly", 3600}, {"minutely", 60}, {"also-minutely", 60}, {"odd", 7}} {
		task, err := NewTask(spec.name, everySeconds(t, start, spec.secs), Func(noop), Options{}, nil)
		if err != nil {
			t.Fatal(err)
		}
		r.AddOrUpdate(task)
	}

	now := start.Add(-time.Second)
	next, ok := r.NextExecutionTime(now)
	if !ok || !next.Equal(start) {
		t.Fatalf("next=%v ok=%v want %v", next, ok, start)
	}

	names := func(ts []*Task) []string {
		out := make([]string, 0, len(ts))
		for _, task := range ts {
			out = append(out, task.Name())
		}
		return out
	}
	if diff := cmp.Diff([]string{"hourly", "minutely", "also-minutely", "odd"}, names(r.ScheduledToExecuteAt(start, false))); diff != "" {
		t.Fatalf("insertion order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"odd", "minutely", "also-minutely", "hourly"}, names(r.ScheduledToExecuteAt(start, true))); diff != "" {
		t.Fatalf("frequency order (-want +got):\n%s", diff)
	}
	if got := r.ScheduledToExecuteAt(start.Add(time.Second), true); len(got) != 0 {
		t.Fatalf("nothing is due one second later, got %v", names(got))
	}
}

func TestRegistryEmptyAndRemove(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if _, ok := r.NextExecutionTime(time.Now()); ok {
		t.Fatal("empty registry has no next execution")
	}
	task, _ := NewTask("a", everySeconds(t, time.Now(), 5), Func(noop), Options{}, nil)
	r.AddOrUpdate(task)
	if _, ok := r.Remove("a"); !ok {
		t.Fatal("remove should report the task")
	}
	if _, ok := r.Remove("a"); ok {
		t.Fatal("second remove should report nothing")
	}
	if len(r.Names()) != 0 || len(r.Running()) != 0 {
		t.Fatal("registry should be empty")
	}
}

func TestRegistrySkipsTasksWithoutOccurrence(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	r := NewRegistry()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	dead, err := NewTask("dead", exhausted{recurrence.Seconds(60)}, Func(noop), Options{}, nil)
	g.Expect(err).NotTo(HaveOccurred())
	r.AddOrUpdate(dead)

	_, ok := r.NextExecutionTime(start)
	g.Expect(ok).To(BeFalse())
	g.Expect(r.ScheduledToExecuteAt(time.Time{}, true)).To(BeEmpty())

	live, _ := NewTask("live", everySeconds(t, start, 10), Func(noop), Options{}, nil)
	r.AddOrUpdate(live)

	next, ok := r.NextExecutionTime(start.Add(-time.Second))
	g.Expect(ok).To(BeTrue())
	g.Expect(next).To(Equal(start))
	g.Expect(r.ScheduledToExecuteAt(next, true)).To(ConsistOf(live))
}

func TestRegistryReRegisterKeepsDueOccurrence(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	r := NewRegistry()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	task, _ := NewTask("sync", everySeconds(t, start, 10), Func(noop), Options{}, nil)
	r.AddOrUpdate(task)
	due, ok := r.NextExecutionTime(start.Add(-time.Second))
	g.Expect(ok).To(BeTrue())
	g.Expect(due).To(Equal(start))

	// Same frequency, different phase: the cached occurrence stays.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		tt := everySeconds(t, start.Add(time.Duration(i+1)*time.Second), 10)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				repl, _ := NewTask("sync", tt, Func(noop), Options{}, nil)
				r.AddOrUpdate(repl)
			}
		}()
	}
	for j := 0; j < 50; j++ {
		g.Expect(r.ScheduledToExecuteAt(due, true)).To(ConsistOf(task))
	}
	wg.Wait()
	g.Expect(r.ScheduledToExecuteAt(due, true)).To(ConsistOf(task))

	// A new frequency recomputes from the new timetable.
	repl, _ := NewTask("sync", everySeconds(t, start, 30), Func(noop), Options{}, nil)
	r.AddOrUpdate(repl)
	g.Expect(r.ScheduledToExecuteAt(due, true)).To(BeEmpty())
	g.Expect(task.NextOccurrence(due)).To(Equal(start.Add(30 * time.Second)))
}
