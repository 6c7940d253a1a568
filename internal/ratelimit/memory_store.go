package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. Only correct for a single
// instance; used for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Hit implements Store
func (s *MemoryStore) Hit(_ context.Context, key string, limit int, d time.Duration, now time.Time) (Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || w.resetAt.Before(now) {
		w = &window{count: 1, resetAt: now.Add(d)}
		s.windows[key] = w
		return Hit{Count: 1, ResetAt: w.resetAt, Allowed: true}, nil
	}

	if w.count >= limit {
		return Hit{Count: w.count, ResetAt: w.resetAt, Allowed: false}, nil
	}

	w.count++
	return Hit{Count: w.count, ResetAt: w.resetAt, Allowed: true}, nil
}

// Sweep drops windows that expired before now and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, w := range s.windows {
		if w.resetAt.Before(now) {
			delete(s.windows, key)
			n++
		}
	}
	return n, nil
}
