package definitions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"recurrent/internal/config"
	"recurrent/internal/recurrence"
	"recurrent/internal/task/scheduler"
	logx "recurrent/pkg/logx"
)

// Result lists the task names touched by one Apply.
type Result struct {
	Added   []string
	Updated []string
	Removed []string
}

func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Updated) == 0 && len(r.Removed) == 0
}

// Reconciler keeps the scheduler's registry in line with a list of task
// definitions.
type Reconciler struct {
	s   *scheduler.Scheduler
	log logx.Logger

	mu      sync.Mutex
	managed map[string]config.TaskConfig
}

func NewReconciler(s *scheduler.Scheduler, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{s: s, log: log, managed: map[string]config.TaskConfig{}}
}

// Managed returns the names of tasks registered from definitions.
func (r *Reconciler) Managed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.managed))
	for name := range r.managed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Apply registers every definition in defs and removes managed tasks that
// are no longer listed. A definition that fails to register keeps its
// previous registration, if any; all failures are returned together.
func (r *Reconciler) Apply(ctx context.Context, defs []config.TaskConfig) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		res    Result
		result *multierror.Error
	)
	wanted := make(map[string]bool, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		def.Name = name
		wanted[name] = true

		prev, known := r.managed[name]
		if known && prev == def {
			continue
		}
		if err := r.register(ctx, def); err != nil {
			result = multierror.Append(result, fmt.Errorf("task %q: %w", name, err))
			continue
		}
		r.managed[name] = def
		if known {
			res.Updated = append(res.Updated, name)
		} else {
			res.Added = append(res.Added, name)
		}
	}

	for name := range r.managed {
		if wanted[name] {
			continue
		}
		r.s.Remove(name)
		delete(r.managed, name)
		res.Removed = append(res.Removed, name)
	}

	sort.Strings(res.Added)
	sort.Strings(res.Updated)
	sort.Strings(res.Removed)
	if !res.Empty() {
		r.log.Info("task definitions applied",
			logx.Any("added", res.Added),
			logx.Any("updated", res.Updated),
			logx.Any("removed", res.Removed))
	}
	return res, result.ErrorOrNil()
}

func (r *Reconciler) register(ctx context.Context, def config.TaskConfig) error {
	freq, err := recurrence.ParseFrequency(def.Every)
	if err != nil {
		return err
	}
	start, err := config.ParseTimeField("start_time", def.StartTime)
	if err != nil {
		return err
	}
	timeout, err := config.ParseDurationField("timeout", def.Timeout)
	if err != nil {
		return err
	}
	if strings.TrimSpace(def.Command) == "" {
		return fmt.Errorf("command required")
	}
	_, err = r.s.Every(ctx, freq, def.Name, scheduler.Options{
		StartTime: start,
		Save:      def.Save,
		Timeout:   timeout,
	}, Command(def.Command))
	return err
}
