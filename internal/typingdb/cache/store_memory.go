package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payload  []byte
	storedAt time.Time
}

// MemoryStore is the in-process cache tier. A zero TTL keeps entries for the
// process lifetime; stale-but-present entries remain valid because upstream
// reference data is append-only, so the TTL only bounds how long a newly
// published allele can stay invisible.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

// NewMemoryStore creates an in-memory tier with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.ttl > 0 && time.Since(entry.storedAt) >= s.ttl {
		return nil, ErrNotFound
	}
	return entry.payload, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{payload: payload, storedAt: time.Now()}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
