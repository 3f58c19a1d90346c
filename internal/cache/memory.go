package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/allipceo/JeJuV2.0/internal/models"
)

// MemoryStore is the in-process cache. Expired entries are dropped when read
// or when Sweep runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]models.CacheEntry),
		now:     clockOrDefault(now),
	}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) (models.CacheEntry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[fingerprint]
	s.mu.RUnlock()
	if !ok {
		return models.CacheEntry{}, false
	}

	if !entry.Valid(s.now()) {
		s.mu.Lock()
		// A concurrent Put may have replaced the entry since the read lock was released.
		if current, ok := s.entries[fingerprint]; ok && !current.Valid(s.now()) {
			delete(s.entries, fingerprint)
		}
		s.mu.Unlock()
		return models.CacheEntry{}, false
	}

	entry.Payload = clonePayload(entry.Payload)
	return entry, true
}

func (s *MemoryStore) Put(_ context.Context, fingerprint string, payload json.RawMessage, ttl time.Duration) error {
	entry := models.CacheEntry{
		Fingerprint: fingerprint,
		Payload:     clonePayload(payload),
		StoredAt:    s.now(),
		TTL:         ttl,
	}

	s.mu.Lock()
	s.entries[fingerprint] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	delete(s.entries, fingerprint)
	s.mu.Unlock()
	return nil
}

// Clear drops every entry.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]models.CacheEntry)
	s.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fp, entry := range s.entries {
		if !entry.Valid(now) {
			delete(s.entries, fp)
			removed++
		}
	}
	return removed, nil
}
