package session

import (
	"context"
	"sync"
	"time"
)

// AttemptStore keeps per-identifier attempt timestamps for a sliding window.
//
// Hit prunes entries older than now-window, then either records now (allowed)
// or, when limit entries remain, rejects and returns the oldest entry so the
// caller can estimate the wait. Implementations must make Hit atomic per key.
type AttemptStore interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (allowed bool, oldest time.Time, err error)
	Clear(ctx context.Context, key string) error
}

// MemoryAttemptStore is the process-local AttemptStore. Limits are enforced
// per instance only.
type MemoryAttemptStore struct {
	mu   sync.Mutex
	keys map[string][]time.Time
}

// NewMemoryAttemptStore returns an empty store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{keys: make(map[string][]time.Time)}
}

func (s *MemoryAttemptStore) Hit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (bool, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := prune(s.keys[key], now.Add(-window))
	if len(recent) >= limit {
		s.keys[key] = recent
		return false, recent[0], nil
	}
	s.keys[key] = append(recent, now)
	return true, time.Time{}, nil
}

func (s *MemoryAttemptStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops keys whose attempts all fell out of the window.
func (s *MemoryAttemptStore) Sweep(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ts := range s.keys {
		recent := prune(ts, now.Add(-window))
		if len(recent) == 0 {
			delete(s.keys, k)
			removed++
			continue
		}
		s.keys[k] = recent
	}
	return removed
}

// prune keeps timestamps after cut. Input is append-ordered, so the result
// stays sorted oldest first.
func prune(ts []time.Time, cut time.Time) []time.Time {
	dst := ts[:0]
	for _, t := range ts {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}
