package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"recurrent/internal/recurrence"
	"recurrent/internal/task/engine"
)

// memoryStore keeps everything in process. Schedules and results are held
// encoded so callers never share a mutable *Schedule with the store.
type memoryStore struct {
	mu        sync.Mutex
	schedules map[string][]byte
	results   map[string][]byte
	leases    leaseTable
}

func NewMemory() Store {
	return &memoryStore{
		schedules: map[string][]byte{},
		results:   map[string][]byte{},
		leases:    leaseTable{},
	}
}

func (s *memoryStore) SaveSchedule(ctx context.Context, name string, sched *recurrence.Schedule) error {
	_ = ctx
	b, err := sched.MarshalJSON()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.schedules[name] = b
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) LoadSchedule(ctx context.Context, name string) (*recurrence.Schedule, bool, error) {
	_ = ctx
	s.mu.Lock()
	b, ok := s.schedules[name]
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

func (s *memoryStore) SaveResult(ctx context.Context, rec engine.ResultRecord) error {
	_ = ctx
	b, err := encodeResult(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.results[rec.Name] = b
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) LoadResult(ctx context.Context, name string) (any, bool, error) {
	_ = ctx
	s.mu.Lock()
	b, ok := s.results[name]
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

func (s *memoryStore) TryLock(ctx context.Context, key, owner string, ttl time.Duration) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases.acquire(key, owner, ttl, time.Now())
}

func (s *memoryStore) Unlock(ctx context.Context, key, owner string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases.release(key, owner)
	return nil
}

func (s *memoryStore) Close() error { return nil }

type lease struct {
	Owner   string `json:"owner"`
	Expires int64  `json:"expires"` // unix milli
}

// leaseTable is the in-process lease bookkeeping shared by the memory and
// file drivers. Callers hold their own lock.
type leaseTable map[string]lease

func (t leaseTable) acquire(key, owner string, ttl time.Duration, now time.Time) error {
	key = strings.TrimSpace(key)
	if cur, ok := t[key]; ok && cur.Owner != owner && cur.Expires > now.UnixMilli() {
		return ErrLockHeld
	}
	t[key] = lease{Owner: owner, Expires: now.Add(ttl).UnixMilli()}
	return nil
}

func (t leaseTable) release(key, owner string) bool {
	key = strings.TrimSpace(key)
	if cur, ok := t[key]; ok && cur.Owner == owner {
		delete(t, key)
		return true
	}
	return false
}
