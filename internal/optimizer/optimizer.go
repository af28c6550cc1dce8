package optimizer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/llm-optimizer/internal/cache"
	"github.com/vnmchuo/llm-optimizer/internal/cost"
	"github.com/vnmchuo/llm-optimizer/internal/inference"
	"github.com/vnmchuo/llm-optimizer/internal/query"
	"github.com/vnmchuo/llm-optimizer/internal/routing"
	"github.com/vnmchuo/llm-optimizer/internal/scoring"
	"github.com/vnmchuo/llm-optimizer/internal/tier"
)

type Config struct {
	// MaxAttempts bounds the inference retry, counting the first try.
	MaxAttempts int
	// RetryInitialInterval seeds the exponential backoff between tries.
	RetryInitialInterval time.Duration
	// MaxTokens caps the requested completion length.
	MaxTokens int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:          3,
		RetryInitialInterval: 500 * time.Millisecond,
		MaxTokens:            1024,
	}
}

// Metadata accompanies every answer for auditability.
type Metadata struct {
	QueryID     string           `json:"query_id"`
	CacheStatus cost.Status      `json:"cache_status"`
	MatchedBy   string           `json:"matched_by"`
	Tier        string           `json:"tier,omitempty"`
	Score       float64          `json:"score"`
	Reasoning   []scoring.Factor `json:"reasoning,omitempty"`
	CostUSD     float64          `json:"cost_usd"`
	LatencyMs   int64            `json:"latency_ms"`
}

type Result struct {
	Response string   `json:"response"`
	Meta     Metadata `json:"metadata"`
}

// Optimizer is the single entry point: cache first, then route, invoke,
// store and track. Cache backend failures degrade internally; only
// inference failures surface, always with the decision attached.
type Optimizer struct {
	cache    *cache.SmartCache
	policy   *routing.Policy
	client   inference.Client
	tracker  *cost.Tracker
	table    *tier.Table
	cfg      Config
	breakers map[string]*gobreaker.CircuitBreaker
	tracer   trace.Tracer
}

func New(c *cache.SmartCache, policy *routing.Policy, client inference.Client, tracker *cost.Tracker, table *tier.Table, cfg Config, tracer trace.Tracer) (*Optimizer, error) {
	if c == nil || policy == nil || client == nil || tracker == nil || table == nil {
		return nil, &Error{Kind: KindConfig, Message: "cache, policy, client, tracker and tier table are all required"}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 500 * time.Millisecond
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, table.Len())
	for _, t := range table.Tiers() {
		settings := gobreaker.Settings{
			Name:        t.Name,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[t.Name] = gobreaker.NewCircuitBreaker(settings)
	}

	return &Optimizer{
		cache:    c,
		policy:   policy,
		client:   client,
		tracker:  tracker,
		table:    table,
		cfg:      cfg,
		breakers: breakers,
		tracer:   tracer,
	}, nil
}

// Answer resolves a query: cached response if available, otherwise a
// routed inference call whose result is cached for next time.
func (o *Optimizer) Answer(ctx context.Context, q query.Query) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "optimizer.answer")
	defer span.End()

	queryID := uuid.New().String()
	span.SetAttributes(attribute.String("query_id", queryID))

	if entry, match := o.cache.Get(ctx, q); match != cache.MatchNone {
		o.tracker.Record(ctx, queryID, nil, cost.StatusHit, cost.Usage{
			InputTokens:  entry.InputTokens,
			OutputTokens: entry.OutputTokens,
		})
		span.SetAttributes(
			attribute.String("cache", string(cost.StatusHit)),
			attribute.String("matched_by", match.String()),
		)
		return &Result{
			Response: entry.Response,
			Meta: Metadata{
				QueryID:     queryID,
				CacheStatus: cost.StatusHit,
				MatchedBy:   match.String(),
			},
		}, nil
	}

	decision := o.policy.Route(q)
	span.SetAttributes(
		attribute.String("cache", string(cost.StatusMiss)),
		attribute.String("routed_tier", decision.TierName),
		attribute.Float64("score", decision.Score),
	)

	resp, usedTier, err := o.invokeWithRetry(ctx, decision.Tier, q)
	if err != nil {
		// After escalation the tier named in the decision may not be
		// the one that was last attempted; report the latter.
		decision.Tier = usedTier
		decision.TierName = usedTier.Name
		kind := KindInferenceFatal
		if inference.IsTransient(err) {
			kind = KindInferenceTransient
		}
		return nil, &Error{
			Kind:     kind,
			Message:  "inference call failed",
			Decision: &decision,
			Err:      err,
		}
	}

	usage := cost.Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}
	o.cache.Put(ctx, q, &cache.Entry{
		Response:     resp.Text,
		Tier:         usedTier.Name,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	rec := o.tracker.Record(ctx, queryID, &usedTier, cost.StatusMiss, usage)

	return &Result{
		Response: resp.Text,
		Meta: Metadata{
			QueryID:     queryID,
			CacheStatus: cost.StatusMiss,
			MatchedBy:   cache.MatchNone.String(),
			Tier:        usedTier.Name,
			Score:       decision.Score,
			Reasoning:   decision.Reasoning,
			CostUSD:     rec.CostUSD,
			LatencyMs:   resp.LatencyMs,
		},
	}, nil
}

// invokeWithRetry runs the bounded retry. Tier-capacity failures (rate
// limits, open breaker) escalate to the next more capable tier before
// the next attempt; other transient failures retry the same tier;
// anything else stops immediately. Returns the tier actually used.
func (o *Optimizer) invokeWithRetry(ctx context.Context, start tier.Tier, q query.Query) (*inference.Response, tier.Tier, error) {
	current := start

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.RetryInitialInterval

	op := func() (*inference.Response, error) {
		resp, err := o.invoke(ctx, current, q)
		if err == nil {
			return resp, nil
		}
		if !inference.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		if inference.IsTierCapacity(err) {
			if next, ok := o.table.Next(current); ok {
				current = next
			}
		}
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(o.cfg.MaxAttempts)),
	)
	return resp, current, err
}

func (o *Optimizer) invoke(ctx context.Context, t tier.Tier, q query.Query) (*inference.Response, error) {
	cb := o.breakers[t.Name]
	result, err := cb.Execute(func() (interface{}, error) {
		return o.client.Invoke(ctx, &inference.Request{
			Tier:      t,
			Query:     q,
			MaxTokens: o.cfg.MaxTokens,
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Treat an open breaker like tier capacity so the retry
			// escalates instead of hammering the tripped tier.
			return nil, &breakerOpenError{tier: t.Name, err: err}
		}
		return nil, err
	}
	return result.(*inference.Response), nil
}

type breakerOpenError struct {
	tier string
	err  error
}

func (e *breakerOpenError) Error() string {
	return "tier " + e.tier + " unavailable: " + e.err.Error()
}

func (e *breakerOpenError) Is(target error) bool {
	return target == inference.ErrRateLimited
}

// CostSummary exposes the aggregate cost/hit statistics.
func (o *Optimizer) CostSummary() cost.Summary {
	return o.tracker.Summary()
}

// CacheStats exposes cache hit/miss counters and the active backend.
func (o *Optimizer) CacheStats() cache.Stats {
	return o.cache.Stats()
}
