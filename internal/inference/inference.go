package inference

import (
	"context"
	"errors"

	"github.com/vnmchuo/llm-optimizer/internal/query"
	"github.com/vnmchuo/llm-optimizer/internal/tier"
)

// Failure classes reported by inference clients. RateLimited and
// Timeout are transient and retryable; ErrService is not.
var (
	ErrRateLimited = errors.New("inference: rate limited")
	ErrTimeout     = errors.New("inference: timeout")
	ErrService     = errors.New("inference: service error")
)

type Request struct {
	Tier      tier.Tier
	Query     query.Query
	MaxTokens int
}

type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
	LatencyMs    int64
}

// Client is the external inference collaborator. The optimizer never
// constructs one; it is injected.
type Client interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

// IsTierCapacity reports whether err is specific to the attempted
// tier's capacity, which makes escalating to a more capable tier a
// sensible fallback.
func IsTierCapacity(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
