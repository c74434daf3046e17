package scheduler

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"recurrent/internal/eventbus"
	"recurrent/internal/recurrence"
	"recurrent/internal/task/engine"
	logx "recurrent/pkg/logx"
)

// Scheduler owns the task registry and the process-wide execution counter.
type Scheduler struct {
	cfg   Config
	hooks Hooks
	log   logx.Logger
	loc   *time.Location
	id    string

	recur    *recurrence.Engine
	registry *engine.Registry
	rt       *engine.Runtime

	mu        sync.Mutex
	executing int
}

func New(cfg Config, hooks Hooks, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:      cfg,
		hooks:    hooks,
		id:       ProcessIdentifier(),
		registry: engine.NewRegistry(),
	}
	s.log = log.With(logx.String("proc", s.id))
	s.loc = loadLocation(cfg.Timezone, s.log)
	s.recur = &recurrence.Engine{
		Loader: hooks.ScheduleLoader,
		Saver:  hooks.ScheduleSaver,
		Now:    s.Now,
		Log:    s.log,
	}
	s.rt = &engine.Runtime{
		Hooks:          hooks.Task,
		Counter:        s,
		MaxConcurrency: cfg.MaxConcurrency,
		Identifier:     s.id,
		Log:            s.log,
		Bus:            bus,
		History:        engine.NewHistory(cfg.HistorySize),
	}
	return s
}

// ProcessIdentifier names this process as "host:<hostname> pid:<pid>".
func ProcessIdentifier() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("host:%s pid:%d", host, os.Getpid())
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Now is the scheduler's clock in its configured timezone.
func (s *Scheduler) Now() time.Time { return time.Now().In(s.loc) }

func (s *Scheduler) Identifier() string { return s.id }

func (s *Scheduler) Config() Config { return s.cfg }

func (s *Scheduler) Registry() *engine.Registry { return s.registry }

// Every registers action to run at freq under name. Registering an existing
// name updates that task in place; a running execution is not disturbed.
func (s *Scheduler) Every(ctx context.Context, freq recurrence.Frequency, name string, opt Options, action engine.Action) (*engine.Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, engine.ErrNameRequired
	}
	if err := engine.ValidateAction(action); err != nil {
		return nil, err
	}
	var start *time.Time
	if !opt.StartTime.IsZero() {
		st := opt.StartTime
		start = &st
	}
	tt, err := s.recur.CreateSchedule(ctx, name, freq, start)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", name, err)
	}
	task, err := engine.NewTask(name, tt, action, engine.Options{Save: opt.Save, Timeout: opt.Timeout}, s.rt)
	if err != nil {
		return nil, err
	}
	stored := s.registry.AddOrUpdate(task)
	s.log.Debug("task registered",
		logx.String("task", name),
		logx.String("schedule", tt.String()),
		logx.Time("next", stored.NextOccurrence(s.Now())),
		logx.Bool("save", opt.Save))
	return stored, nil
}

// Remove unregisters name. A running execution finishes on its own.
func (s *Scheduler) Remove(name string) bool {
	_, ok := s.registry.Remove(name)
	if ok {
		s.log.Debug("task removed", logx.String("task", name))
	}
	return ok
}

// IncrementExecuting reserves an execution slot unless limit (> 0) slots are
// already taken.
func (s *Scheduler) IncrementExecuting(limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && s.executing >= limit {
		return false
	}
	s.executing++
	return true
}

func (s *Scheduler) DecrementExecuting() {
	s.mu.Lock()
	if s.executing > 0 {
		s.executing--
	}
	s.mu.Unlock()
}

func (s *Scheduler) Executing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing
}

// NextTaskTime is the earliest upcoming occurrence across all tasks.
func (s *Scheduler) NextTaskTime() (time.Time, bool) {
	return s.registry.NextExecutionTime(s.Now())
}

// TasksAt returns the tasks due exactly at t.
func (s *Scheduler) TasksAt(t time.Time) []*engine.Task {
	return s.registry.ScheduledToExecuteAt(t, s.cfg.SortByFrequency)
}

func (s *Scheduler) RunningTasks() []*engine.Task { return s.registry.Running() }

func (s *Scheduler) Snapshot() Snapshot {
	now := s.Now()
	tasks := s.registry.Tasks()
	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		tt := t.Timetable()
		infos = append(infos, TaskInfo{
			Name:      t.Name(),
			Timetable: tt.String(),
			Frequency: tt.FrequencyInSeconds(),
			Next:      t.NextOccurrence(now),
			Running:   t.Running(),
			Save:      t.Save(),
		})
	}
	return Snapshot{
		Identifier:     s.id,
		Timezone:       s.loc.String(),
		Executing:      s.Executing(),
		MaxConcurrency: s.cfg.MaxConcurrency,
		Drain:          s.cfg.Drain.String(),
		Tasks:          infos,
		History:        s.rt.History.Items(),
	}
}
