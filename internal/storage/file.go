package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"recurrent/internal/recurrence"
	"recurrent/internal/task/engine"
	logx "recurrent/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. Leases live only
// in memory: they exclude tasks within one process, not across processes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	state        fileState
	leases       leaseTable

	writes int
}

type fileState struct {
	Schedules map[string]json.RawMessage `json:"schedules"`
	Results   map[string]json.RawMessage `json:"results"`
}

const (
	opSchedule = "schedule"
	opResult   = "result"
)

type journalRecord struct {
	Op   string          `json:"op"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := fileState{Schedules: map[string]json.RawMessage{}, Results: map[string]json.RawMessage{}}
	if err := loadSnapshot(snapPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable, starting from journal", logx.Err(err))
	}
	if err := replayJournal(journalPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay incomplete", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		state:        st,
		leases:       leaseTable{},
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	var result error
	if err := s.compactLocked(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.journalFile.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.journalFile = nil
	return result
}

func (s *fileStore) SaveSchedule(ctx context.Context, name string, sched *recurrence.Schedule) error {
	_ = ctx
	b, err := sched.MarshalJSON()
	if err != nil {
		return err
	}
	return s.put(opSchedule, name, b)
}

func (s *fileStore) LoadSchedule(ctx context.Context, name string) (*recurrence.Schedule, bool, error) {
	_ = ctx
	s.mu.Lock()
	b, ok := s.state.Schedules[name]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	sched, err := recurrence.DecodeSchedule(b)
	if err != nil {
		return nil, false, err
	}
	return sched, true, nil
}

func (s *fileStore) SaveResult(ctx context.Context, rec engine.ResultRecord) error {
	_ = ctx
	b, err := encodeResult(rec)
	if err != nil {
		return err
	}
	return s.put(opResult, rec.Name, b)
}

func (s *fileStore) LoadResult(ctx context.Context, name string) (any, bool, error) {
	_ = ctx
	s.mu.Lock()
	b, ok := s.state.Results[name]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	v, err := decodeResult(b)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *fileStore) TryLock(ctx context.Context, key, owner string, ttl time.Duration) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases.acquire(key, owner, ttl, time.Now())
}

func (s *fileStore) Unlock(ctx context.Context, key, owner string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases.release(key, owner)
	return nil
}

func (s *fileStore) put(op, key string, data []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	s.state.apply(journalRecord{Op: op, Key: key, Data: data})

	if err := json.NewEncoder(s.journalFile).Encode(journalRecord{Op: op, Key: key, Data: data}); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (st *fileState) apply(r journalRecord) {
	switch r.Op {
	case opSchedule:
		st.Schedules[r.Key] = r.Data
	case opResult:
		st.Results[r.Key] = r.Data
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	for k, v := range st.Schedules {
		out.Schedules[k] = v
	}
	for k, v := range st.Results {
		out.Results[k] = v
	}
	return nil
}

func replayJournal(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out.apply(r)
	}
	return sc.Err()
}
