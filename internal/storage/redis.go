package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis"

	"recurrent/internal/recurrence"
	"recurrent/internal/task/engine"
	logx "recurrent/pkg/logx"
)

// Compare-and-set scripts keep lease renewal and release owner-safe.
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "recurrent:"
	}
	cli := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	if err := cli.Ping().Err(); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return newRedisStore(cli, prefix, log), nil
}

func newRedisStore(cli *redis.Client, prefix string, log logx.Logger) *redisStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{client: cli, prefix: prefix, log: log}
}

func (s *redisStore) key(kind, name string) string { return s.prefix + kind + ":" + name }

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) SaveSchedule(ctx context.Context, name string, sched *recurrence.Schedule) error {
	b, err := sched.MarshalJSON()
	if err != nil {
		return err
	}
	return s.client.WithContext(ctx).Set(s.key("schedule", name), b, 0).Err()
}

func (s *redisStore) LoadSchedule(ctx context.Context, name string) (*recurrence.Schedule, bool, error) {
	b, err := s.client.WithContext(ctx).Get(s.key("schedule", name)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	sched, err := recurrence.DecodeSchedule(b)
	if err != nil {
		return nil, false, err
	}
	return sched, true, nil
}

func (s *redisStore) SaveResult(ctx context.Context, rec engine.ResultRecord) error {
	b, err := encodeResult(rec)
	if err != nil {
		return err
	}
	return s.client.WithContext(ctx).Set(s.key("result", rec.Name), b, 0).Err()
}

func (s *redisStore) LoadResult(ctx context.Context, name string) (any, bool, error) {
	b, err := s.client.WithContext(ctx).Get(s.key("result", name)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := decodeResult(b)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *redisStore) TryLock(ctx context.Context, key, owner string, ttl time.Duration) error {
	cli := s.client.WithContext(ctx)
	k := s.key("lock", key)
	ok, err := cli.SetNX(k, owner, ttl).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	n, err := renewScript.Run(cli, []string{k}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

func (s *redisStore) Unlock(ctx context.Context, key, owner string) error {
	return releaseScript.Run(s.client.WithContext(ctx), []string{s.key("lock", key)}, owner).Err()
}
