package definitions

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"recurrent/internal/config"
	"recurrent/internal/recurrence"
	"recurrent/internal/task/scheduler"
	logx "recurrent/pkg/logx"
)

func newScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{}, scheduler.Hooks{}, logx.Nop(), nil)
}

func TestCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v, err := Command("echo '  hello  '")(ctx)
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if v != "hello" {
		t.Fatalf("got %q, want trimmed output", v)
	}

	_, err = Command("echo boom >&2; exit 3")(ctx)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("want failure carrying stderr, got %v", err)
	}
}

func TestCommandKilledOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Command("sleep 10")(ctx)
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("want interrupted error, got %v", err)
	}
	if took := time.Since(start); took > 5*time.Second {
		t.Fatalf("command outlived its context by %s", took)
	}
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newScheduler()
	r := NewReconciler(s, logx.Nop())

	// A task registered by other code must survive reconciliation.
	if _, err := s.Every(ctx, nil, "adhoc", scheduler.Options{}, Command("true")); err == nil {
		t.Fatal("nil frequency accepted")
	}
	if _, err := s.Every(ctx, mustFreq(t, "1h"), "adhoc", scheduler.Options{}, Command("true")); err != nil {
		t.Fatal(err)
	}

	res, err := r.Apply(ctx, []config.TaskConfig{
		{Name: "a", Every: "1h", Command: "true"},
		{Name: "b", Every: "1h", Command: "true"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Result{Added: []string{"a", "b"}}, res); diff != "" {
		t.Fatalf("first apply (-want +got):\n%s", diff)
	}
	a, _ := s.Registry().Get("a")

	res, err = r.Apply(ctx, []config.TaskConfig{
		{Name: "a", Every: "2h", Command: "true"},
		{Name: "c", Every: "1h", Command: "true"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := Result{Added: []string{"c"}, Updated: []string{"a"}, Removed: []string{"b"}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("second apply (-want +got):\n%s", diff)
	}

	a2, ok := s.Registry().Get("a")
	if !ok || a2 != a {
		t.Fatal("update must keep the registered task")
	}
	if got := a2.FrequencyInSeconds(); got != 7200 {
		t.Fatalf("frequency=%d, want 7200", got)
	}
	if diff := cmp.Diff([]string{"adhoc", "a", "c"}, s.Registry().Names()); diff != "" {
		t.Fatalf("registry names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "c"}, r.Managed()); diff != "" {
		t.Fatalf("managed (-want +got):\n%s", diff)
	}

	res, err = r.Apply(ctx, []config.TaskConfig{
		{Name: "a", Every: "2h", Command: "true"},
		{Name: "c", Every: "1h", Command: "true"},
	})
	if err != nil || !res.Empty() {
		t.Fatalf("unchanged apply: res=%+v err=%v", res, err)
	}
}

func TestReconcileKeepsPreviousOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newScheduler()
	r := NewReconciler(s, logx.Nop())

	if _, err := r.Apply(ctx, []config.TaskConfig{{Name: "a", Every: "1h", Command: "true"}}); err != nil {
		t.Fatal(err)
	}
	_, err := r.Apply(ctx, []config.TaskConfig{
		{Name: "a", Every: "whenever", Command: "true"},
		{Name: "b", Every: "1m", Command: ""},
	})
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.Contains(err.Error(), `task "a"`) || !strings.Contains(err.Error(), `task "b"`) {
		t.Fatalf("want both failures reported, got %v", err)
	}
	a, ok := s.Registry().Get("a")
	if !ok || a.FrequencyInSeconds() != 3600 {
		t.Fatal("failed update must keep the previous registration")
	}
	if _, ok := s.Registry().Get("b"); ok {
		t.Fatal("invalid definition registered")
	}
}

func mustFreq(t *testing.T, raw string) recurrence.Frequency {
	t.Helper()
	f, err := recurrence.ParseFrequency(raw)
	if err != nil {
		t.Fatal(err)
	}
	return f
}
