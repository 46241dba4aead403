package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

// RateLimiter enforces a fixed-window per-caller request budget shared across
// processes through Redis. Analytics queries can fan out into expensive
// per-day builds, so the admin surface is throttled per caller rather than
// globally.
type RateLimiter struct {
	client *redis.Client
	window time.Duration
	limit  int
}

// NewRateLimiter allows limit requests per window for each key. A nil client
// or non-positive limit disables enforcement.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, window: window, limit: limit}
}

// Allow records one request for the key and reports whether it fits the
// current window. Redis outages fail open: throttling is protective, not
// load-bearing.
func (l *RateLimiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.client == nil || l.limit <= 0 {
		return nil
	}

	bucket := time.Now().UTC().Unix() / int64(l.window.Seconds())
	redisKey := fmt.Sprintf("modeldesk:rpm:%s:%d", key, bucket)

	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return nil
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, l.window)
	}
	if int(cnt) > l.limit {
		return ErrLimitExceeded
	}
	return nil
}
