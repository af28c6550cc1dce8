package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/vnmchuo/llm-optimizer/internal/query"
)

type MatchType int

const (
	MatchNone MatchType = iota
	MatchExact
	MatchSimilar
)

func (m MatchType) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchSimilar:
		return "similar"
	default:
		return "none"
	}
}

// Stats reports cache performance for the observability surface.
type Stats struct {
	TotalRequests int     `json:"total_requests"`
	Hits          int     `json:"hits"`
	Misses        int     `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Backend       string  `json:"backend"`
}

// SmartCache layers the exact-match store and the similarity index.
// Lookup order is exact first (cheapest, deterministic), then similar;
// the first hit wins, which bounds the common hit path to the exact
// store's latency.
type SmartCache struct {
	exact      *ExactStore
	index      *SimilarityIndex
	defaultTTL time.Duration
	threshold  float64

	mu     sync.Mutex
	hits   int
	misses int
}

func NewSmartCache(exact *ExactStore, index *SimilarityIndex, defaultTTL time.Duration, similarityThreshold float64) *SmartCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &SmartCache{
		exact:      exact,
		index:      index,
		defaultTTL: defaultTTL,
		threshold:  similarityThreshold,
	}
}

func (c *SmartCache) Get(ctx context.Context, q query.Query) (*Entry, MatchType) {
	key := BuildKey(q)
	if e, ok := c.exact.Get(ctx, key); ok {
		c.count(true)
		return e, MatchExact
	}

	if c.index.Enabled() {
		if e, ok := c.index.FindSimilar(ctx, q, c.threshold); ok {
			c.count(true)
			return e, MatchSimilar
		}
	}

	c.count(false)
	return nil, MatchNone
}

// Put commits the entry to the exact store and, when an embedder is
// configured, indexes it for similarity lookups. The embedding is
// computed before the commit so the exact store never serializes a
// partially-written entry; an embedding failure only costs the
// similarity index, never the exact entry.
func (c *SmartCache) Put(ctx context.Context, q query.Query, e *Entry) {
	e.Key = BuildKey(q)
	e.CreatedAt = time.Now()
	if e.TTL <= 0 {
		e.TTL = c.defaultTTL
	}

	if c.index.Enabled() {
		if err := c.index.Add(ctx, q, e); err != nil {
			log.Printf("cache: similarity indexing failed for %s: %v", e.Key, err)
		}
	}
	c.exact.Put(ctx, e.Key, e)
}

func (c *SmartCache) Stats() Stats {
	c.mu.Lock()
	hits, misses := c.hits, c.misses
	c.mu.Unlock()

	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		TotalRequests: total,
		Hits:          hits,
		Misses:        misses,
		HitRate:       rate,
		Backend:       c.exact.Backend(),
	}
}

func (c *SmartCache) count(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
}
