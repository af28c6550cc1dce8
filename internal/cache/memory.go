package cache

import (
	"sync"
	"time"
)

// MemoryStore is the in-process fallback for the exact-match store.
// Expiry is lazy: an expired entry is evicted on the read that finds it.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Get(key string) (*Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.ExpiredAt(time.Now()) {
		s.mu.Lock()
		// Re-check under the write lock; a Put may have raced in.
		if cur, ok := s.entries[key]; ok && cur.ExpiredAt(time.Now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) Put(key string, e *Entry) {
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
