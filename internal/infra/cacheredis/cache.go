package cacheredis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trustplane/internal/domain"
	"trustplane/internal/usecase"

	"github.com/redis/go-redis/v9"
)

// Cache stores policy decisions in redis so every instance behind a load
// balancer shares one decision cache. Purge bumps a generation counter
// instead of scanning keys; entries from old generations become unreachable
// and expire on their own TTL.
type Cache struct {
	client *redis.Client
}

const generationKey = "decision:generation"

func New(client *redis.Client) (*Cache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Get(ctx context.Context, key string) (*domain.Decision, bool, error) {
	entryKey, err := c.entryKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	raw, err := c.client.Get(ctx, entryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var decision domain.Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, false, err
	}
	return &decision, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, decision domain.Decision, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	entryKey, err := c.entryKey(ctx, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, entryKey, raw, ttl).Err()
}

func (c *Cache) Purge(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}

func (c *Cache) entryKey(ctx context.Context, key string) (string, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("decision:%d:%s", gen, key), nil
}

var _ usecase.DecisionCache = (*Cache)(nil)
