package cost

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vnmchuo/llm-optimizer/internal/tier"
)

type Status string

const (
	StatusHit  Status = "hit"
	StatusMiss Status = "miss"
)

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Record is one append-only cost entry. A hit costs nothing; a miss
// costs the used tier's per-token prices applied to the reported usage.
type Record struct {
	ID           string    `json:"id"`
	QueryID      string    `json:"query_id"`
	Tier         string    `json:"tier"`
	Status       Status    `json:"cache_status"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists records outside the process; persistence is optional
// and failures must never surface into the request path.
type Store interface {
	LogRecord(ctx context.Context, rec *Record) error
}

// Summary is a pure reduction over the recorded sequence, safe to
// compute at any time. Baseline figures answer "what would this have
// cost always using the most capable tier".
type Summary struct {
	TotalRequests     int                `json:"total_requests"`
	Hits              int                `json:"hits"`
	Misses            int                `json:"misses"`
	HitRate           float64            `json:"hit_rate"`
	TotalCostUSD      float64            `json:"total_cost_usd"`
	CostByTier        map[string]float64 `json:"cost_by_tier"`
	RoutingEfficiency float64            `json:"routing_efficiency"`
	BaselineCostUSD   float64            `json:"baseline_cost_usd"`
	SavingsUSD        float64            `json:"savings_usd"`
	SavingsPercent    float64            `json:"savings_percent"`
}

// Tracker owns the full cost history for the process lifetime. It is
// an injected instance, not process state, so independent optimizers
// do not interfere.
type Tracker struct {
	table *tier.Table
	store Store

	mu      sync.Mutex
	records []Record
}

type Option func(*Tracker)

// WithStore adds write-through persistence for each record.
func WithStore(store Store) Option {
	return func(t *Tracker) { t.store = store }
}

func NewTracker(table *tier.Table, opts ...Option) *Tracker {
	t := &Tracker{table: table}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends one cost entry. usedTier is nil for cache hits, where
// no inference call was made and the cost is zero.
func (t *Tracker) Record(ctx context.Context, queryID string, usedTier *tier.Tier, status Status, usage Usage) Record {
	rec := Record{
		ID:           uuid.New().String(),
		QueryID:      queryID,
		Status:       status,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CreatedAt:    time.Now(),
	}
	if status == StatusMiss && usedTier != nil {
		rec.Tier = usedTier.Name
		rec.CostUSD = usedTier.Cost(usage.InputTokens, usage.OutputTokens)
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.LogRecord(ctx, &rec); err != nil {
			log.Printf("cost: failed to persist record %s: %v", rec.ID, err)
		}
	}
	return rec
}

func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	records := make([]Record, len(t.records))
	copy(records, t.records)
	t.mu.Unlock()

	s := Summary{CostByTier: make(map[string]float64)}
	s.TotalRequests = len(records)

	cheapest := t.table.Cheapest().Name
	baseline := t.table.MostCapable()
	routedCheapest := 0

	for _, rec := range records {
		s.BaselineCostUSD += baseline.Cost(rec.InputTokens, rec.OutputTokens)
		if rec.Status == StatusHit {
			s.Hits++
			continue
		}
		s.Misses++
		s.TotalCostUSD += rec.CostUSD
		s.CostByTier[rec.Tier] += rec.CostUSD
		if rec.Tier == cheapest {
			routedCheapest++
		}
	}

	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests)
	}
	if s.Misses > 0 {
		s.RoutingEfficiency = float64(routedCheapest) / float64(s.Misses)
	}
	s.SavingsUSD = s.BaselineCostUSD - s.TotalCostUSD
	if s.BaselineCostUSD > 0 {
		s.SavingsPercent = s.SavingsUSD / s.BaselineCostUSD * 100
	}
	return s
}

// Records returns the history between from and to, newest first,
// matching the persistent store's query shape.
func (t *Tracker) Records(ctx context.Context, from, to time.Time) ([]*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Record
	for i := len(t.records) - 1; i >= 0; i-- {
		rec := t.records[i]
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}
