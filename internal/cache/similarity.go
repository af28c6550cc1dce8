package cache

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/vnmchuo/llm-optimizer/internal/query"
)

// Embedder turns text into a vector for similarity matching. The
// concrete embedding model is a pluggable collaborator; the index only
// relies on this contract.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type indexed struct {
	text  string
	entry *Entry
}

// SimilarityIndex is the optional secondary lookup: given the incoming
// query's embedding it returns the nearest stored entry at or above a
// cosine-similarity threshold. With no embedder configured every
// lookup is a miss and the system degrades to exact-match-only.
type SimilarityIndex struct {
	embedder Embedder
	maxScan  int

	mu      sync.RWMutex
	entries []indexed
}

// NewSimilarityIndex builds an index retaining at most maxScan of the
// most recently added entries; the scan window is also the retention
// bound, so memory stays flat under sustained traffic. A nil embedder
// disables the index.
func NewSimilarityIndex(embedder Embedder, maxScan int) *SimilarityIndex {
	if maxScan <= 0 {
		maxScan = 50
	}
	return &SimilarityIndex{embedder: embedder, maxScan: maxScan}
}

func (idx *SimilarityIndex) Enabled() bool {
	return idx.embedder != nil
}

// Add embeds the normalized query text and indexes the entry for
// future similarity lookups, evicting the oldest entries once the
// retention bound is exceeded.
func (idx *SimilarityIndex) Add(ctx context.Context, q query.Query, e *Entry) error {
	if idx.embedder == nil {
		return nil
	}
	text := Normalize(q.Text)
	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	e.Embedding = vec

	idx.mu.Lock()
	idx.entries = append(idx.entries, indexed{text: text, entry: e})
	if len(idx.entries) > idx.maxScan {
		// Copy into a fresh slice so the old backing array is released.
		trimmed := make([]indexed, idx.maxScan)
		copy(trimmed, idx.entries[len(idx.entries)-idx.maxScan:])
		idx.entries = trimmed
	}
	idx.mu.Unlock()
	return nil
}

// FindSimilar returns the stored entry most similar to q, provided its
// similarity meets threshold. Ties go to the most recently created
// entry; expired entries are skipped.
func (idx *SimilarityIndex) FindSimilar(ctx context.Context, q query.Query, threshold float64) (*Entry, bool) {
	if idx.embedder == nil {
		return nil, false
	}
	vec, err := idx.embedder.Embed(ctx, Normalize(q.Text))
	if err != nil {
		return nil, false
	}

	now := time.Now()
	var best *Entry
	bestSim := 0.0

	idx.mu.RLock()
	entries := idx.entries
	if len(entries) > idx.maxScan {
		entries = entries[len(entries)-idx.maxScan:]
	}
	for _, cand := range entries {
		if cand.entry.ExpiredAt(now) {
			continue
		}
		sim := cosine(vec, cand.entry.Embedding)
		if sim < threshold {
			continue
		}
		if best == nil || sim > bestSim ||
			(sim == bestSim && cand.entry.CreatedAt.After(best.CreatedAt)) {
			best = cand.entry
			bestSim = sim
		}
	}
	idx.mu.RUnlock()

	return best, best != nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
