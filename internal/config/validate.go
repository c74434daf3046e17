package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"recurrent/internal/recurrence"
	"recurrent/internal/storage"
	"recurrent/internal/task/scheduler"
	logx "recurrent/pkg/logx"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var result *multierror.Error

	if _, err := cfg.Worker.SchedulerConfig(); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := lockTTLField.parse(cfg.Worker.LockTTL); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.Worker.MaxConcurrency < 0 {
		result = multierror.Append(result, fmt.Errorf("worker.max_concurrency: must be >= 0"))
	}
	if (cfg.Worker.ProcessLocking || cfg.Worker.TaskLocking) && cfg.Storage == nil {
		result = multierror.Append(result, fmt.Errorf("worker: process_locking and task_locking need a storage section"))
	}
	if cfg.Storage != nil {
		if _, err := cfg.Storage.StoreConfig(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	seen := make(map[string]bool, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			result = multierror.Append(result, fmt.Errorf("%s.name: required", path))
		} else if seen[name] {
			result = multierror.Append(result, fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = true
		if _, err := recurrence.ParseFrequency(t.Every); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s.every: %w", path, err))
		}
		if _, err := ParseTimeField(path+".start_time", t.StartTime); err != nil {
			result = multierror.Append(result, err)
		}
		if strings.TrimSpace(t.Command) == "" {
			result = multierror.Append(result, fmt.Errorf("%s.command: required", path))
		}
		if _, err := ParseDurationField(path+".timeout", t.Timeout); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ParseTimeField parses an RFC 3339 timestamp. Empty means zero.
func ParseTimeField(path, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid time %q: %w", path, raw, err)
	}
	return t, nil
}

// SchedulerConfig resolves durations and the drain policy.
func (w WorkerConfig) SchedulerConfig() (scheduler.Config, error) {
	poll, err := pollIntervalField.parse(w.PollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	lockBackoff, err := lockBackoffField.parse(w.LockBackoff)
	if err != nil {
		return scheduler.Config{}, err
	}
	drainTimeout, err := drainTimeoutField.parse(w.DrainTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}

	var drain scheduler.DrainPolicy
	switch strings.ToLower(strings.TrimSpace(w.Drain)) {
	case "", "indefinite", "wait":
		drain = scheduler.DrainIndefinite()
	case "bounded", "kill":
		drain = scheduler.DrainBounded(drainTimeout)
	default:
		return scheduler.Config{}, fmt.Errorf("worker.drain: unknown policy %q (want indefinite or bounded)", w.Drain)
	}

	return scheduler.Config{
		PollInterval:    poll,
		MaxConcurrency:  w.MaxConcurrency,
		Drain:           drain,
		LockBackoff:     lockBackoff,
		SortByFrequency: w.SortByFrequency,
		Timezone:        w.Timezone,
		HistorySize:     w.HistorySize,
	}, nil
}

// HookOptions resolves the locking settings for storage.Hooks.
func (w WorkerConfig) HookOptions(owner string, log logx.Logger) storage.HookOptions {
	ttl, _ := lockTTLField.parse(w.LockTTL)
	return storage.HookOptions{
		Owner:       owner,
		TTL:         ttl,
		TaskLocking: w.TaskLocking,
		ProcessLock: w.ProcessLocking,
		Log:         log,
	}
}

func (s StorageConfig) StoreConfig() (storage.Config, error) {
	busy, err := busyTimeoutField.parse(s.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      s.Driver,
		Path:        s.Path,
		Addr:        s.Addr,
		Password:    s.Password,
		DB:          s.DB,
		Prefix:      s.Prefix,
		BusyTimeout: busy,
	}, nil
}

func (l LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Sink:    logx.SinkConfig{MinLevel: l.Sink.MinLevel, RatePerSec: l.Sink.RatePerSec},
	}
}
