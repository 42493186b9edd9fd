package state

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count       uint64
	lastTouched time.Time
}

// NewMemory returns an in-process counter store. A non-positive ttl falls
// back to DefaultTTL.
func NewMemory(ttl time.Duration) Store {
	return newMemory(ttl, time.Now)
}

func newMemory(ttl time.Duration, now func() time.Time) *memoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &memoryStore{ttl: ttl, now: now, counters: make(map[string]*counter)}
}

func (s *memoryStore) Increment(_ context.Context, key string) (uint64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok || now.Sub(c.lastTouched) > s.ttl {
		c = &counter{}
		s.counters[key] = c
	}
	c.count++
	c.lastTouched = now
	return c.count, nil
}

func (s *memoryStore) Get(_ context.Context, key string) (uint64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok {
		return 0, nil
	}
	if now.Sub(c.lastTouched) > s.ttl {
		delete(s.counters, key)
		return 0, nil
	}
	c.lastTouched = now
	return c.count, nil
}

func (s *memoryStore) Sweep(_ context.Context) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.counters {
		if now.Sub(c.lastTouched) > s.ttl {
			delete(s.counters, key)
		}
	}
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
