package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ExactStore is the exact-match key/value store with TTL. It prefers
// the Redis backend and transparently degrades to the in-process
// MemoryStore on connection failure or timeout; a periodic PING
// promotes it back to the Redis backend once reachable again.
// Backend errors never reach the caller: a failed Redis op is a miss
// plus a fallback attempt.
type ExactStore struct {
	rdb         *redis.Client // nil means memory-only
	mem         *MemoryStore
	opTimeout   time.Duration
	healthEvery time.Duration

	mu        sync.Mutex
	degraded  bool
	lastCheck time.Time
}

func NewExactStore(rdb *redis.Client, opTimeout, healthEvery time.Duration) *ExactStore {
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	if healthEvery <= 0 {
		healthEvery = 30 * time.Second
	}
	return &ExactStore{
		rdb:         rdb,
		mem:         NewMemoryStore(),
		opTimeout:   opTimeout,
		healthEvery: healthEvery,
	}
}

func (s *ExactStore) Get(ctx context.Context, key string) (*Entry, bool) {
	if s.useRedis(ctx) {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		var e Entry
		err := s.rdb.Get(opCtx, key).Scan(&e)
		switch {
		case err == nil:
			if e.ExpiredAt(time.Now()) {
				return nil, false
			}
			return &e, true
		case err == redis.Nil:
			return nil, false
		default:
			s.markDegraded(err)
		}
	}
	return s.mem.Get(key)
}

// Put commits the entry under key, overwriting any prior entry and
// resetting its TTL.
func (s *ExactStore) Put(ctx context.Context, key string, e *Entry) {
	if s.useRedis(ctx) {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		if err := s.rdb.Set(opCtx, key, e, e.TTL).Err(); err != nil {
			s.markDegraded(err)
		} else {
			return
		}
	}
	s.mem.Put(key, e)
}

// Backend reports which store currently serves lookups.
func (s *ExactStore) Backend() string {
	if s.rdb == nil {
		return BackendMemory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return BackendMemory
	}
	return BackendRedis
}

// useRedis reports whether the Redis backend should be tried, running
// the periodic health re-check when the store is degraded.
func (s *ExactStore) useRedis(ctx context.Context) bool {
	if s.rdb == nil {
		return false
	}

	s.mu.Lock()
	if !s.degraded {
		s.mu.Unlock()
		return true
	}
	if time.Since(s.lastCheck) < s.healthEvery {
		s.mu.Unlock()
		return false
	}
	s.lastCheck = time.Now()
	s.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.rdb.Ping(opCtx).Err(); err != nil {
		return false
	}

	s.mu.Lock()
	s.degraded = false
	s.mu.Unlock()
	log.Printf("cache: redis reachable again, leaving degraded mode")
	return true
}

func (s *ExactStore) markDegraded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.degraded {
		log.Printf("cache: redis unavailable, falling back to in-memory store: %v", err)
		s.degraded = true
		s.lastCheck = time.Now()
	}
}
