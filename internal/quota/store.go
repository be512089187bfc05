package quota

import (
	"context"
	"sync"
)

// Key identifies one counter pair
type Key struct {
	RequesterID string
	PeriodKey   string
}

func (k Key) String() string {
	return k.RequesterID + ":" + k.PeriodKey
}

// Counters is the committed and in-flight consumption for one key
type Counters struct {
	Committed int
	Reserved  int
}

// Store persists quota counters. Every implementation must make Reserve
// atomic per key: concurrent callers may never push committed+reserved past limit.
type Store interface {
	// Reserve increments reserved when committed+reserved < limit (limit <= 0 is unlimited).
	// Returns ErrQuotaExceeded and the current counters otherwise.
	Reserve(ctx context.Context, key Key, limit int) (Counters, error)
	// Commit moves one unit from reserved to committed
	Commit(ctx context.Context, key Key) error
	// Release drops one reserved unit
	Release(ctx context.Context, key Key) error
	Counters(ctx context.Context, key Key) (Counters, error)
}

// MemoryStore keeps counters in process memory
type MemoryStore struct {
	mu       sync.Mutex
	counters map[Key]*Counters
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[Key]*Counters)}
}

func (s *MemoryStore) Reserve(ctx context.Context, key Key, limit int) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(key)
	if limit > 0 && c.Committed+c.Reserved >= limit {
		return *c, ErrQuotaExceeded
	}
	c.Reserved++
	return *c, nil
}

func (s *MemoryStore) Commit(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(key)
	if c.Reserved <= 0 {
		return ErrNoOutstandingReservation
	}
	c.Reserved--
	c.Committed++
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(key)
	if c.Reserved <= 0 {
		return ErrNoOutstandingReservation
	}
	c.Reserved--
	return nil
}

func (s *MemoryStore) Counters(ctx context.Context, key Key) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.get(key), nil
}

// Seed sets the committed count for a key, for fixtures and admin corrections
func (s *MemoryStore) Seed(key Key, committed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(key).Committed = committed
}

func (s *MemoryStore) get(key Key) *Counters {
	c, ok := s.counters[key]
	if !ok {
		c = &Counters{}
		s.counters[key] = c
	}
	return c
}
