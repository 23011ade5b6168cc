package cache

import (
	"context"
	"sync"
	"time"

	"call-coach-go/internal/types"
)

// MemoryStore keeps entries in process memory. It is the default when no
// Redis address is configured and the store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]types.CacheEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]types.CacheEntry)}
}

func (s *MemoryStore) Get(_ context.Context, fp string) (types.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fp]
	return e, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, entry types.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[entry.Fingerprint]; ok {
		entry.HitCount = prev.HitCount
	}
	s.entries[entry.Fingerprint] = entry
	return nil
}

func (s *MemoryStore) IncrHits(_ context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[fp]; ok {
		e.HitCount++
		s.entries[fp] = e
	}
	return nil
}

// Sweep drops entries whose TTL has passed and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for fp, e := range s.entries {
		if e.TTLSeconds > 0 && now.After(e.ComputedAt.Add(time.Duration(e.TTLSeconds)*time.Second)) {
			delete(s.entries, fp)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
