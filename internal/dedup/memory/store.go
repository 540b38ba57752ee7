// Package memory provides an in-process dedup store for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Store is a map-backed crawler.DedupStore with lazy expiry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   crawler.Clock
}

var _ crawler.DedupStore = (*Store)(nil)

// New constructs a Store. A nil clock uses the system clock.
func New(clock crawler.Clock) *Store {
	if clock == nil {
		clock = crawler.SystemClock
	}
	return &Store{entries: make(map[string]entry), clock: clock}
}

// Exists reports whether key is present and unexpired.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.liveLocked(key)
	return ok, nil
}

// SetWithTTL stores a presence marker that expires after ttl.
func (s *Store) SetWithTTL(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: "1", expiresAt: s.clock().Add(ttl)}
	return nil
}

// Set stores value without expiry.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value}
	return nil
}

// Get returns the value at key, or "" when absent.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, _ := s.liveLocked(key)
	return e.value, nil
}

// Health always succeeds.
func (s *Store) Health(context.Context) error { return nil }

// Len returns the number of unexpired keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.entries {
		if _, ok := s.liveLocked(k); ok {
			n++
		}
	}
	return n
}

func (s *Store) liveLocked(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.clock().Before(e.expiresAt) {
		return entry{}, false
	}
	return e, true
}
