package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memWindow struct {
	count int64
	reset time.Time
}

// MemoryStore is a process-local Store. Counters are not shared between
// instances, so it suits single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	now     func() time.Time
	sweep   time.Duration
}

type MemoryOption func(*MemoryStore)

// WithMemoryClock replaces time.Now, tests use it to move windows forward.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithSweepInterval controls how often expired windows are evicted.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweep = d }
}

// NewMemoryStore creates a store and starts its eviction goroutine, which
// stops when ctx is cancelled.
func NewMemoryStore(ctx context.Context, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]*memWindow),
		now:     time.Now,
		sweep:   time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	if s.sweep > 0 {
		go s.cleanup(ctx)
	}
	return s
}

func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &memWindow{reset: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.reset, nil
}

// Len reports the number of live windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, w := range s.windows {
		if !now.Before(w.reset) {
			delete(s.windows, k)
		}
	}
}

func (s *MemoryStore) cleanup(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}
