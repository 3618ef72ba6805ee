package ratelimit

import (
	"context"
	"errors"
	"time"

	"trustplane/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts requests in fixed windows shared across replicas.
// The counter key expires with the window, so idle keys clean themselves up.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

var allowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {hits, redis.call("PTTL", KEYS[1])}
`)

func NewRedisLimiter(client *redis.Client, now func() time.Time) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, now: now}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		windowMS = time.Second.Milliseconds()
	}
	result, err := allowScript.Run(ctx, r.client, []string{"ratelimit:" + key}, windowMS).Result()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	hits, ttlMS, err := parseAllowReply(result)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	resetAt := r.now()
	if ttlMS > 0 {
		resetAt = resetAt.Add(time.Duration(ttlMS) * time.Millisecond)
	}
	remaining := limit - int(hits)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   hits <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func parseAllowReply(result any) (hits, ttlMS int64, err error) {
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return 0, 0, errors.New("unexpected redis rate limit reply")
	}
	hits, ok = values[0].(int64)
	if !ok {
		return 0, 0, errors.New("redis rate limit counter is not an integer")
	}
	ttlMS, _ = values[1].(int64)
	return hits, ttlMS, nil
}

var _ domain.RateLimiter = (*RedisLimiter)(nil)
