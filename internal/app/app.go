package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"recurrent/internal/config"
	"recurrent/internal/definitions"
	"recurrent/internal/eventbus"
	"recurrent/internal/recurrence"
	"recurrent/internal/runtime/supervisor"
	"recurrent/internal/storage"
	"recurrent/internal/task/engine"
	"recurrent/internal/task/scheduler"
	logx "recurrent/pkg/logx"
	"recurrent/pkg/systemd"
)

// Options configure New. ConfigPath may be empty when only an ad-hoc task
// is run.
type Options struct {
	ConfigPath string
	Adhoc      *AdhocTask
	// LogSink receives formatted log lines (filtered by logging.sink).
	LogSink logx.Sink
}

// AdhocTask is a single command task given on the command line.
type AdhocTask struct {
	Name    string
	Every   string
	Command string
}

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched  *scheduler.Scheduler
	worker *scheduler.Worker
	defs   *definitions.Reconciler
	adhoc  *adhocTask
}

// adhocTask is an AdhocTask with its frequency already parsed.
type adhocTask struct {
	name    string
	freq    recurrence.Frequency
	command string
}

func (t *AdhocTask) resolve() (*adhocTask, error) {
	freq, err := recurrence.ParseFrequency(t.Every)
	if err != nil {
		return nil, fmt.Errorf("-every: %w", err)
	}
	if strings.TrimSpace(t.Command) == "" {
		return nil, fmt.Errorf("-system: command required")
	}
	name := strings.TrimSpace(t.Name)
	if name == "" {
		name = "system"
	}
	return &adhocTask{name: name, freq: freq, command: t.Command}, nil
}

func New(opt Options) (*App, error) {
	cfg := &config.Config{}
	var cfgm *config.ConfigManager
	if strings.TrimSpace(opt.ConfigPath) != "" {
		cfgm = config.NewConfigManager(opt.ConfigPath)
		loaded, err := cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	var adhoc *adhocTask
	if opt.Adhoc != nil {
		t, err := opt.Adhoc.resolve()
		if err != nil {
			return nil, err
		}
		adhoc = t
	}

	logSvc, log := logx.New(cfg.Logging.LogConfig(), opt.LogSink)

	schedCfg, err := cfg.Worker.SchedulerConfig()
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	owner := scheduler.ProcessIdentifier()

	var (
		store storage.Store
		hooks scheduler.Hooks
	)
	if cfg.Storage != nil {
		sc, err := cfg.Storage.StoreConfig()
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(sc, log)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		if store != nil {
			hooks = storage.Hooks(store, cfg.Worker.HookOptions(owner, log.With(logx.String("comp", "locker"))))
			log.Info("storage enabled", logx.String("driver", sc.Driver))
		}
	}

	sched := scheduler.New(schedCfg, hooks, log.With(logx.String("comp", "scheduler")), bus)

	return &App{
		cfgm:   cfgm,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    bus,
		store:  store,
		sched:  sched,
		worker: scheduler.NewWorker(sched),
		defs:   definitions.NewReconciler(sched, log.With(logx.String("comp", "definitions"))),
		adhoc:  adhoc,
	}, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *App) Worker() *scheduler.Worker { return a.worker }

// Run registers the configured tasks and blocks until ctx is cancelled and
// running tasks are drained, or a component fails.
func (a *App) Run(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if _, err := a.defs.Apply(ctx, a.cfg.Tasks); err != nil {
		return a.shutdown(sup, fmt.Errorf("register tasks: %w", err))
	}
	if t := a.adhoc; t != nil {
		if _, err := a.sched.Every(ctx, t.freq, t.name, scheduler.Options{}, definitions.Command(t.command)); err != nil {
			return a.shutdown(sup, fmt.Errorf("register %s: %w", t.name, err))
		}
	}

	sup.Go("worker", a.worker.Run)
	a.logEvents(sup)
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.watchConfig(sup)
	}

	if wd := systemd.WatchdogInterval(); wd > 0 {
		sup.Go0("systemd.watchdog", func(c context.Context) { systemd.Watchdog(c, wd, a.log) })
	}
	systemd.Ready(a.log)
	a.log.Info("app started", logx.Int("tasks", a.sched.Registry().Len()))

	<-sup.Context().Done()
	return a.shutdown(sup, nil)
}

func (a *App) shutdown(sup *supervisor.Supervisor, cause error) error {
	reason := StopSignal
	if cause != nil || sup.Err() != nil {
		reason = StopFatalError
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	systemd.Stopping(a.log)

	// The worker drains according to its own policy; no deadline here.
	sup.Cancel()
	var result *multierror.Error
	if cause != nil {
		result = multierror.Append(result, cause)
	}
	if err := sup.Wait(context.Background()); err != nil {
		result = multierror.Append(result, err)
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
			result = multierror.Append(result, err)
		}
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return result.ErrorOrNil()
}

// logEvents mirrors task lifecycle events at debug level.
func (a *App) logEvents(sup *supervisor.Supervisor) {
	events, unsub := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if te, ok := e.Data.(engine.TaskEvent); ok {
					fields = append(fields, logx.String("task", te.Name), logx.Time("due", te.Due))
					if te.Reason != "" {
						fields = append(fields, logx.String("reason", te.Reason))
					}
				}
				a.log.Debug("event", fields...)
			}
		}
	})
}

func (a *App) watchConfig(sup *supervisor.Supervisor) {
	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	sup.Go("config.watch", a.cfgm.Watch)
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, tasks := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(tasks) > 0 {
		a.log.Debug("task definition changes detected", logx.Any("tasks", tasks))
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(newCfg.Logging.LogConfig())
		case "worker", "storage":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	start := time.Now()
	if _, err := a.defs.Apply(ctx, newCfg.Tasks); err != nil {
		a.log.Warn("some task definitions were not applied", logx.Err(err))
	}

	fields := append([]logx.Field{
		logx.String("changed", strings.Join(sections, ",")),
		logx.Duration("took", time.Since(start)),
	}, attrs...)
	a.log.Info("config reloaded", fields...)
}
