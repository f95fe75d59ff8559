package seen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/park285/ccrl-live-notifier/internal/ccrlpgn"
)

// RedisStore shares the seen set between processes. Keys live under
// "seen:<namespace>:"; a fresh namespace per run keeps the set scoped to the
// session, a fixed one carries it across restarts.
type RedisStore struct {
	rdb       redis.UniversalClient
	namespace string
	ttl       time.Duration
}

type RedisOption func(*RedisStore)

// WithNamespace pins the key namespace. Blank values are ignored.
func WithNamespace(ns string) RedisOption {
	return func(s *RedisStore) {
		if v := strings.TrimSpace(ns); v != "" {
			s.namespace = v
		}
	}
}

// WithTTL expires fingerprints ttl after they were added. Zero keeps them.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, namespace: "run-" + uuid.NewString()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) Namespace() string { return s.namespace }

func (s *RedisStore) key(fp ccrlpgn.Fingerprint) string {
	return "seen:" + s.namespace + ":" + fp.String()
}

func (s *RedisStore) Contains(ctx context.Context, fp ccrlpgn.Fingerprint) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(fp)).Result()
	if err != nil {
		return false, fmt.Errorf("seen contains: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Add(ctx context.Context, fp ccrlpgn.Fingerprint) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(fp), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("seen add: %w", err)
	}
	return ok, nil
}
