package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-node Store. Admission timestamps are kept per
// key and trimmed on every call.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	clock   func() time.Time
}

// NewMemoryStore creates an in-memory sliding-window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string][]time.Time),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Admit(_ context.Context, key string, window time.Duration, quota int) (bool, int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cutoff := now.Add(-window)

	kept := s.windows[key][:0]
	for _, ts := range s.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	allowed := len(kept) < quota
	if allowed {
		kept = append(kept, now)
	}
	s.windows[key] = kept

	var oldestAge time.Duration
	if len(kept) > 0 {
		oldestAge = now.Sub(kept[0])
	}
	return allowed, len(kept), oldestAge, nil
}
