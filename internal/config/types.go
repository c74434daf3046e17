package config

// Config is the on-disk configuration (JSON or YAML).
//
// Example (YAML):
//
//	logging: { level: info, console: true }
//	worker:  { max_concurrency: 4, drain: bounded, drain_timeout: 30s }
//	storage: { driver: sqlite, path: ./recurrent.db }
//	tasks:
//	  - { name: cleanup, every: 1h, command: "rm -f /tmp/cache/*" }
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Worker  WorkerConfig   `json:"worker"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Tasks   []TaskConfig   `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Sink    LoggingSink `json:"sink"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingSink limits what an embedding application's log hook receives.
type LoggingSink struct {
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// WorkerConfig controls the scheduler loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m") or a
// bare number of seconds. poll_interval and lock_backoff must be at least
// 10ms, lock_ttl at least 1s.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "500ms"
//   - max_concurrency: 0 (unlimited)
//   - drain: "indefinite"; "bounded" waits drain_timeout (default "30s")
//   - lock_backoff: "5s"
//   - lock_ttl: "30s"
type WorkerConfig struct {
	PollInterval    string `json:"poll_interval,omitempty"`
	MaxConcurrency  int    `json:"max_concurrency,omitempty"`
	Drain           string `json:"drain,omitempty"`
	DrainTimeout    string `json:"drain_timeout,omitempty"`
	LockBackoff     string `json:"lock_backoff,omitempty"`
	ProcessLocking  bool   `json:"process_locking,omitempty"`
	TaskLocking     bool   `json:"task_locking,omitempty"`
	LockTTL         string `json:"lock_ttl,omitempty"`
	SortByFrequency bool   `json:"sort_by_frequency,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./recurrent_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"`
	DB          int    `json:"db,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TaskConfig defines a shell command task.
//
// Every accepts anything recurrence.ParseFrequency does: "90s", "00:30",
// "3600", "2d", "1mo", "@daily", "cron:0 */5 * * * *".
type TaskConfig struct {
	Name      string `json:"name"`
	Every     string `json:"every"`
	StartTime string `json:"start_time,omitempty"` // RFC 3339
	Save      bool   `json:"save,omitempty"`
	Command   string `json:"command"`
	Timeout   string `json:"timeout,omitempty"`
}
