package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter.
// A nil *Limiter allows everything, so deployments without Redis run
// unthrottled.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultTPM int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(defaultTPM)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

// Allow charges tokens against the tenant's per-minute budget.
func (l *Limiter) Allow(ctx context.Context, tenantID string, tokens int) (bool, error) {
	if l == nil {
		return true, nil
	}
	key := fmt.Sprintf("optimizer:ratelimit:%s", tenantID)
	res, err := l.store.AllowN(ctx, key, tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, tenantID string) (*extratelimit.Result, error) {
	if l == nil {
		return nil, nil
	}
	key := fmt.Sprintf("optimizer:ratelimit:%s", tenantID)
	return l.store.Status(ctx, key)
}
