package limits

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int) (*RateLimiter, func()) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	limiter := NewRateLimiter(client, limit, time.Minute)
	cleanup := func() {
		client.Close()
		server.Close()
	}
	return limiter, cleanup
}

func TestRateLimiterEnforcesWindowBudget(t *testing.T) {
	limiter, cleanup := newTestLimiter(t, 2)
	defer cleanup()

	ctx := context.Background()
	key := "caller:admin-1"

	if err := limiter.Allow(ctx, key); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, key); err != nil {
		t.Fatalf("second request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, key); err != ErrLimitExceeded {
		t.Fatalf("expected limit error, got %v", err)
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	limiter, cleanup := newTestLimiter(t, 1)
	defer cleanup()

	ctx := context.Background()
	if err := limiter.Allow(ctx, "caller:a"); err != nil {
		t.Fatalf("caller a first request: %v", err)
	}
	if err := limiter.Allow(ctx, "caller:b"); err != nil {
		t.Fatalf("caller b must have its own budget: %v", err)
	}
	if err := limiter.Allow(ctx, "caller:a"); err != ErrLimitExceeded {
		t.Fatalf("expected caller a to be throttled, got %v", err)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	if err := NewRateLimiter(nil, 10, time.Minute).Allow(context.Background(), "x"); err != nil {
		t.Fatalf("nil client must fail open: %v", err)
	}
	limiter, cleanup := newTestLimiter(t, 0)
	defer cleanup()
	if err := limiter.Allow(context.Background(), "x"); err != nil {
		t.Fatalf("zero limit disables enforcement: %v", err)
	}
}
