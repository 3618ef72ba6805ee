package domain

import (
	"context"
	"time"
)

// RateLimitDecision reports the outcome of one Allow call with enough
// detail for handlers to emit RateLimit-* response headers.
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter meters issuance and verification calls per caller key.
// Implementations count in fixed windows, in process or in redis.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}
