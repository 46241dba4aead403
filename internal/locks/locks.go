package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired indicates another process currently holds the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker provides cross-process advisory locks for cache build coordination.
type Locker interface {
	// Acquire attempts to take the named lock for the given TTL. It returns
	// ErrNotAcquired without blocking when another holder exists.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// Lock is a held advisory lock. Release is safe to call more than once.
type Lock interface {
	Release(ctx context.Context) error
}

// compare-and-delete so a holder never releases a lock that already expired
// and was re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on a shared Redis instance.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker returns a Locker scoped under the given key prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "modeldesk:lock"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	key := fmt.Sprintf("%s:%s", l.prefix, name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisLock{client: l.client, key: key, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// NopLocker always grants the lock. It backs single-process deployments and tests.
type NopLocker struct{}

func (NopLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	return nopLock{}, nil
}

type nopLock struct{}

func (nopLock) Release(ctx context.Context) error { return nil }
