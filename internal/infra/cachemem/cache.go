// Package cachemem holds evaluated policy decisions in process memory.
// It is the default cache when no redis address is configured.
package cachemem

import (
	"context"
	"sync"
	"time"

	"trustplane/internal/domain"
)

type item struct {
	decision domain.Decision
	// expires is zero when the item was stored without a TTL.
	expires time.Time
}

func (it item) live(now time.Time) bool {
	return it.expires.IsZero() || now.Before(it.expires)
}

type Cache struct {
	mu    sync.Mutex
	items map[string]item
}

func New() *Cache {
	return &Cache{items: make(map[string]item)}
}

func (c *Cache) Get(ctx context.Context, key string) (*domain.Decision, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !it.live(time.Now()) {
		delete(c.items, key)
		return nil, false, nil
	}
	decision := it.decision
	return &decision, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, decision domain.Decision, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	it := item{decision: decision}
	if ttl > 0 {
		it.expires = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = it
	c.mu.Unlock()
	return nil
}

// Purge drops everything at once; version bumps and revocations must not
// wait out a TTL.
func (c *Cache) Purge(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	c.items = make(map[string]item)
	c.mu.Unlock()
	return nil
}
