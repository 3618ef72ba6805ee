package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiterFixedWindow(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(clock.Now, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should pass", i)
		}
		if d.Remaining != 3-(i+1) {
			t.Fatalf("request %d: want remaining %d, got %d", i, 3-(i+1), d.Remaining)
		}
	}

	d, err := limiter.Allow(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("fourth request in the window must be rejected")
	}

	// Windows are per key.
	if d, _ := limiter.Allow(ctx, "other", 3, time.Minute); !d.Allowed {
		t.Fatalf("a different key has its own window")
	}

	clock.Advance(time.Minute + time.Second)
	if d, _ := limiter.Allow(ctx, "k", 3, time.Minute); !d.Allowed {
		t.Fatalf("a new window should admit again")
	}
}

func TestMemoryLimiterZeroLimitDisables(t *testing.T) {
	limiter := NewMemoryLimiter(nil, 0)
	d, err := limiter.Allow(context.Background(), "k", 0, time.Minute)
	if err != nil || !d.Allowed {
		t.Fatalf("zero limit should admit everything: %+v %v", d, err)
	}
}
