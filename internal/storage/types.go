package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"recurrent/internal/recurrence"
	"recurrent/internal/task/engine"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrLockHeld = errors.New("lock held by another owner")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps, lost on exit
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "redis": Redis server at Addr
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	Addr        string
	Password    string
	DB          int
	Prefix      string        // redis key prefix; default "recurrent:"
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API behind the scheduler hooks.
type Store interface {
	SaveSchedule(ctx context.Context, name string, s *recurrence.Schedule) error
	LoadSchedule(ctx context.Context, name string) (*recurrence.Schedule, bool, error)
	SaveResult(ctx context.Context, rec engine.ResultRecord) error
	// LoadResult returns the last saved return value of name. Values round
	// trip through JSON, so numbers come back as float64.
	LoadResult(ctx context.Context, name string) (any, bool, error)

	// TryLock takes or renews the lease key for owner until ttl elapses.
	// It returns ErrLockHeld while another owner's lease is live.
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) error
	// Unlock releases key if owner holds it.
	Unlock(ctx context.Context, key, owner string) error
	Close() error
}

var (
	_ recurrence.ScheduleLoader = Store(nil)
	_ recurrence.ScheduleSaver  = Store(nil)
	_ engine.ResultSaver        = Store(nil)
	_ engine.ResultLoader       = Store(nil)
)

func encodeResult(rec engine.ResultRecord) ([]byte, error) {
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now()
	}
	return json.Marshal(rec)
}

func decodeResult(b []byte) (any, error) {
	var rec engine.ResultRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return rec.ReturnValue, nil
}

