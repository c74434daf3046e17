package engine

import (
	"sync"
	"time"

	"recurrent/internal/eventbus"
	"recurrent/pkg/logx"
)

// Counter tracks how many executions are in flight across all tasks.
//
// IncrementExecuting reserves a slot and reports whether it did; a limit
// <= 0 means unlimited. Check and increment happen atomically so two tasks
// due at the same instant cannot both pass a cap of one.
type Counter interface {
	IncrementExecuting(limit int) bool
	DecrementExecuting()
	Executing() int
}

// Runtime is the environment shared by every task of one scheduler.
type Runtime struct {
	Hooks          Hooks
	Counter        Counter
	MaxConcurrency int
	// Identifier names this process in saved results and log lines.
	Identifier string
	Log        logx.Logger
	Bus        eventbus.Bus
	History    *History
}

// Options are the per-task registration options.
type Options struct {
	// Save passes each successful return value to the ResultSaver hook.
	Save bool
	// Timeout bounds a single execution. Zero means no timeout.
	Timeout time.Duration
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	Name     string        `json:"name"`
	Due      time.Time     `json:"due"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Skip reasons carried in TaskEvent.Reason.
const (
	ReasonStillRunning   = "still_running"
	ReasonConcurrencyCap = "concurrency_cap"
	ReasonLockHeld       = "lock_held"
)

type HistoryItem struct {
	Name     string
	Due      time.Time
	Started  time.Time
	Duration time.Duration
	Error    string
}

// History keeps the most recent execution outcomes, oldest first.
type History struct {
	mu    sync.Mutex
	size  int
	items []HistoryItem
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 200
	}
	return &History{size: size}
}

func (h *History) add(item HistoryItem) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.items = append(h.items, item)
	if len(h.items) > h.size {
		h.items = h.items[len(h.items)-h.size:]
	}
	h.mu.Unlock()
}

// Items returns a copy of the recorded outcomes.
func (h *History) Items() []HistoryItem {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.items...)
}

// LocalCounter is a mutex-guarded Counter.
type LocalCounter struct {
	mu sync.Mutex
	n  int
}

func (c *LocalCounter) IncrementExecuting(limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > 0 && c.n >= limit {
		return false
	}
	c.n++
	return true
}

func (c *LocalCounter) DecrementExecuting() {
	c.mu.Lock()
	if c.n > 0 {
		c.n--
	}
	c.mu.Unlock()
}

func (c *LocalCounter) Executing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
