// Package seen remembers which games have already been announced.
package seen

import (
	"context"
	"sync"
	"time"

	"github.com/park285/ccrl-live-notifier/internal/ccrlpgn"
)

// Store is a set of game fingerprints. Add is atomic: when several callers add
// the same fingerprint, exactly one of them gets true.
type Store interface {
	Contains(ctx context.Context, fp ccrlpgn.Fingerprint) (bool, error)
	Add(ctx context.Context, fp ccrlpgn.Fingerprint) (bool, error)
}

// MemoryStore keeps fingerprints for the life of the process. Without a TTL
// the set only grows.
type MemoryStore struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[ccrlpgn.Fingerprint]time.Time // fingerprint -> expiry (zero = never)
}

type MemoryOption func(*MemoryStore)

// WithMemoryTTL forgets fingerprints ttl after they were added.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

func withClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{now: time.Now, m: make(map[ccrlpgn.Fingerprint]time.Time)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Contains(_ context.Context, fp ccrlpgn.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(fp), nil
}

func (s *MemoryStore) Add(_ context.Context, fp ccrlpgn.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveLocked(fp) {
		return false, nil
	}
	var exp time.Time
	if s.ttl > 0 {
		exp = s.now().Add(s.ttl)
	}
	s.m[fp] = exp
	return true, nil
}

// Len counts live fingerprints and drops expired ones.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for fp := range s.m {
		if s.liveLocked(fp) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) liveLocked(fp ccrlpgn.Fingerprint) bool {
	exp, ok := s.m[fp]
	if !ok {
		return false
	}
	if !exp.IsZero() && !s.now().Before(exp) {
		delete(s.m, fp)
		return false
	}
	return true
}
