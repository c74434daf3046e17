package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"recurrent/internal/recurrence"
	"recurrent/internal/task/engine"
	logx "recurrent/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveSchedule(ctx context.Context, name string, sched *recurrence.Schedule) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	b, err := sched.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(name, data, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		name, string(b), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadSchedule(ctx context.Context, name string) (*recurrence.Schedule, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM schedules WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	sched, err := recurrence.DecodeSchedule([]byte(data))
	if err != nil {
		return nil, false, err
	}
	return sched, true, nil
}

func (s *sqliteStore) SaveResult(ctx context.Context, rec engine.ResultRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	b, err := encodeResult(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results(name, data, executed_at, executed_by) VALUES(?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET data=excluded.data, executed_at=excluded.executed_at, executed_by=excluded.executed_by`,
		rec.Name, string(b), rec.ExecutedAt.UnixMilli(), nullStr(rec.ExecutedBy),
	)
	return err
}

func (s *sqliteStore) LoadResult(ctx context.Context, name string) (any, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM results WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := decodeResult([]byte(data))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// TryLock upserts the lease only when it is free, expired or already ours.
func (s *sqliteStore) TryLock(ctx context.Context, key, owner string, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leases(key, owner, expires) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET owner=excluded.owner, expires=excluded.expires
		 WHERE leases.owner = excluded.owner OR leases.expires <= ?`,
		key, owner, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockHeld
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return nil
}

func (s *sqliteStore) Unlock(ctx context.Context, key, owner string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE key = ? AND owner = ?`, key, owner)
	return err
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE expires < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
