// memory.go: Bounded in-process window store
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryStoreSize caps the identities tracked by a MemoryStore.
const DefaultMemoryStoreSize = 100_000

// MemoryStore keeps windows in an LRU so that identity churn cannot grow
// memory without bound. The least recently seen identity is evicted first.
type MemoryStore struct {
	mu      sync.Mutex
	windows *lru.Cache[string, *Window]
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a store tracking at most size identities.
func NewMemoryStore(size int, opts ...MemoryOption) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}
	cache, err := lru.New[string, *Window](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	s := &MemoryStore{windows: cache, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows.Get(key)
	if !ok || !now.Before(w.ResetAt()) {
		w = &Window{Start: now, Length: window}
		s.windows.Add(key, w)
	}
	w.Count++
	return *w, nil
}

// Decrement implements Store.
func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.windows.Peek(key); ok && w.Count > 0 && s.now().Before(w.ResetAt()) {
		w.Count--
	}
	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.windows.Remove(key)
	return nil
}

// Len returns the number of tracked identities.
func (s *MemoryStore) Len() int {
	return s.windows.Len()
}
