package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters and locks in process memory. Each key has its
// own mutex so hot keys do not serialise unrelated ones. State does not
// survive restarts and is not shared between instances; use RedisStore for
// that.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	locks   map[string]time.Time
}

type entry struct {
	mu     sync.Mutex
	events []time.Time
	window time.Duration
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		locks:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) Increment(_ context.Context, key string, at time.Time, window time.Duration) (int64, error) {
	if err := checkArgs(key, window); err != nil {
		return 0, err
	}
	e := s.entry(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prune(at.Add(-window))
	e.events = append(e.events, at)
	e.window = window
	return e.count(at), nil
}

func (s *MemoryStore) Get(_ context.Context, key string, at time.Time, window time.Duration) (int64, error) {
	if err := checkArgs(key, window); err != nil {
		return 0, err
	}
	e := s.entry(key, false)
	if e == nil {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := at.Add(-window)
	var n int64
	for _, ts := range e.events {
		if ts.After(cutoff) && !ts.After(at) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, key string, at, until time.Time) error {
	if key == "" {
		return ErrKeyRequired
	}
	if !until.After(at) {
		return ErrInvalidLockTTL
	}
	s.mu.Lock()
	s.locks[key] = until
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LockedUntil(_ context.Context, key string, at time.Time) (time.Time, error) {
	s.mu.RLock()
	until, ok := s.locks[key]
	s.mu.RUnlock()
	if !ok || !until.After(at) {
		return time.Time{}, nil
	}
	return until, nil
}

func (s *MemoryStore) Unlock(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.locks, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops counters with no event inside their last window and locks
// that ended before now. It returns how many keys it removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.entries {
		e.mu.Lock()
		e.prune(now.Add(-e.window))
		empty := len(e.events) == 0
		e.mu.Unlock()
		if empty {
			delete(s.entries, key)
			n++
		}
	}
	for key, until := range s.locks {
		if !until.After(now) {
			delete(s.locks, key)
			n++
		}
	}
	return n
}

func (s *MemoryStore) entry(key string, create bool) *entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

func (e *entry) prune(cutoff time.Time) {
	kept := e.events[:0]
	for _, ts := range e.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.events = kept
}

func (e *entry) count(at time.Time) int64 {
	var n int64
	for _, ts := range e.events {
		if !ts.After(at) {
			n++
		}
	}
	return n
}
