package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	. "github.com/onsi/gomega"

	logx "recurrent/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
worker:
  poll_interval: 250ms
  max_concurrency: 2
  drain: bounded
  drain_timeout: 10s
storage:
  driver: memory
tasks:
  - name: cleanup
    every: 1h
    command: "true"
  - name: report
    every: "cron:0 0 * * * *"
    start_time: "2024-01-01T00:00:00Z"
    save: true
    command: "echo 42"
    timeout: 30s
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	fromYAML, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if len(fromYAML.Tasks) != 2 || fromYAML.Tasks[1].Timeout != "30s" || fromYAML.Storage.Driver != "memory" {
		t.Fatalf("unexpected yaml config %+v", fromYAML)
	}

	fromJSON, err := Decode("config.json", []byte(`{
		"logging": {"level": "debug", "console": true},
		"worker": {"poll_interval": "250ms", "max_concurrency": 2, "drain": "bounded", "drain_timeout": "10s"},
		"storage": {"driver": "memory"},
		"tasks": [
			{"name": "cleanup", "every": "1h", "command": "true"},
			{"name": "report", "every": "cron:0 0 * * * *", "start_time": "2024-01-01T00:00:00Z", "save": true, "command": "echo 42", "timeout": "30s"}
		]
	}`))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if diff := cmp.Diff(fromYAML, fromJSON); diff != "" {
		t.Fatalf("yaml and json disagree (-yaml +json):\n%s", diff)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		path string
		body string
		want string
	}{
		{name: "unknown field", path: "c.json", body: `{"worker": {"workers": 2}}`, want: "unknown field"},
		{name: "trailing data", path: "c.json", body: `{} {}`, want: "trailing data"},
		{name: "bad yaml", path: "c.yml", body: "worker: [", want: "yaml"},
		{name: "yaml list at top level", path: "c.yaml", body: "- a\n- b\n", want: "config must be a mapping"},
		{name: "unknown task key", path: "c.yaml", body: "tasks:\n  - name: ok\n    every: 1h\n    command: \"true\"\n  - name: backup\n    every: 1h\n    comand: tar\n", want: `tasks[1] (backup): line 7: unknown key "comand"`},
		{name: "unknown key in unnamed task", path: "c.yml", body: "tasks:\n  - every: 1h\n    cmd: x\n", want: `tasks[0]: line 3: unknown key "cmd"`},
		{name: "lock ttl too short", path: "c.json", body: `{"worker": {"lock_ttl": "200ms"}}`, want: "worker.lock_ttl: 200ms is below the minimum of 1s"},
		{name: "poll interval garbage", path: "c.json", body: `{"worker": {"poll_interval": "fast"}}`, want: `worker.poll_interval: "fast" is not a duration`},
		{name: "bad drain", path: "c.json", body: `{"worker": {"drain": "sometimes"}}`, want: "worker.drain"},
		{name: "locking without storage", path: "c.json", body: `{"worker": {"task_locking": true}}`, want: "need a storage section"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.path, []byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want substring %q", err, tc.want)
			}
		})
	}
}

func TestDurationFieldParse(t *testing.T) {
	t.Parallel()
	bounded := durationField{path: "worker.lock_ttl", min: time.Second, def: 30 * time.Second}
	cases := []struct {
		name    string
		field   durationField
		raw     string
		want    time.Duration
		wantErr string
	}{
		{name: "empty is default", field: bounded, raw: "  ", want: 30 * time.Second},
		{name: "zero is default", field: bounded, raw: "0s", want: 30 * time.Second},
		{name: "go duration", field: bounded, raw: "1m30s", want: 90 * time.Second},
		{name: "bare seconds", field: bounded, raw: "45", want: 45 * time.Second},
		{name: "at minimum", field: bounded, raw: "1s", want: time.Second},
		{name: "below minimum", field: bounded, raw: "999ms", wantErr: "worker.lock_ttl: 999ms is below the minimum of 1s"},
		{name: "negative", field: bounded, raw: "-5s", wantErr: "worker.lock_ttl: -5s is negative"},
		{name: "negative seconds", field: bounded, raw: "-5", wantErr: "is negative"},
		{name: "overflow", field: bounded, raw: "99999999999999", wantErr: "out of range"},
		{name: "garbage", field: bounded, raw: "soon", wantErr: `worker.lock_ttl: "soon" is not a duration`},
		{name: "unbounded empty", field: durationField{path: "timeout"}, raw: "", want: 0},
		{name: "unbounded small", field: durationField{path: "timeout"}, raw: "1ms", want: time.Millisecond},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)
			got, err := tc.field.parse(tc.raw)
			if tc.wantErr != "" {
				g.Expect(err).To(MatchError(ContainSubstring(tc.wantErr)))
				return
			}
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(got).To(Equal(tc.want))
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	cfg, err := Decode("empty.yaml", nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Tasks).To(BeEmpty())
}

func TestValidateCollectsAllTaskErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{Tasks: []TaskConfig{
		{Name: "", Every: "1h", Command: "true"},
		{Name: "a", Every: "soon", Command: "true"},
		{Name: "a", Every: "1h", Command: ""},
		{Name: "b", Every: "1h", Command: "true", StartTime: "yesterday", Timeout: "-1s"},
	}}
	err := Validate(cfg)
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("want *multierror.Error, got %T: %v", err, err)
	}
	if got := len(merr.Errors); got != 6 {
		t.Fatalf("got %d errors, want 6:\n%v", got, err)
	}
}

func TestSchedulerConfigResolution(t *testing.T) {
	t.Parallel()
	sc, err := WorkerConfig{Drain: "bounded"}.SchedulerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !sc.Drain.Bounded() || sc.Drain.Timeout() != 30*time.Second {
		t.Fatalf("drain=%v", sc.Drain)
	}
	sc, err = WorkerConfig{PollInterval: "1s", MaxConcurrency: 3}.SchedulerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if sc.Drain.Bounded() || sc.PollInterval != time.Second || sc.MaxConcurrency != 3 {
		t.Fatalf("unexpected %+v", sc)
	}
	opts := WorkerConfig{TaskLocking: true, LockTTL: "10s"}.HookOptions("me", logx.Nop())
	if opts.TTL != 10*time.Second || !opts.TaskLocking || opts.ProcessLock || opts.Owner != "me" {
		t.Fatalf("unexpected hook options %+v", opts)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Tasks: []TaskConfig{
		{Name: "keep", Every: "1h", Command: "true"},
		{Name: "edit", Every: "1h", Command: "true"},
		{Name: "drop", Every: "1h", Command: "true"},
	}}
	newCfg := &Config{
		Worker: WorkerConfig{MaxConcurrency: 1},
		Tasks: []TaskConfig{
			{Name: "keep", Every: "1h", Command: "true"},
			{Name: "edit", Every: "2h", Command: "true"},
			{Name: "add", Every: "1h", Command: "true"},
		},
	}
	sections, _, tasks := SummarizeConfigChange(oldCfg, newCfg)
	if diff := cmp.Diff([]string{"worker", "tasks"}, sections); diff != "" {
		t.Fatalf("sections (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"add", "drop", "edit"}, tasks); diff != "" {
		t.Fatalf("tasks (-want +got):\n%s", diff)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "recurrent.yaml")
	write := func(body string) {
		g.Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
	}
	write("tasks:\n  - {name: a, every: 1h, command: 'true'}\n")

	m := NewConfigManager(path)
	_, err := m.Load()
	g.Expect(err).NotTo(HaveOccurred())
	updates := m.Subscribe(1)
	defer m.Unsubscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	write("tasks:\n  - {name: a, every: 2h, command: 'true'}\n")

	var got *Config
	g.Eventually(updates, 3*time.Second).Should(Receive(&got))
	g.Expect(got.Tasks[0].Every).To(Equal("2h"))
	g.Expect(m.Get()).To(BeIdenticalTo(got))

	// Invalid content is rejected and never published.
	write("tasks:\n  - {name: a, every: never, command: 'true'}\n")
	g.Consistently(updates, 600*time.Millisecond).ShouldNot(Receive())
	g.Expect(m.Get().Tasks[0].Every).To(Equal("2h"))

	cancel()
	g.Eventually(done).Should(Receive(BeNil()))
}
