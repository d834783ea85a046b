package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter counts hits per key in fixed windows stored in Redis.
type RateLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, prefix: prefix, limit: int64(limit), window: window}
}

// Allow records one hit for key and reports whether it is within the limit,
// along with the hits left in the current window.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	count, err := l.increment(ctx, l.prefix+key)
	if err != nil {
		return false, 0, err
	}
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= l.limit, remaining, nil
}

func (l *RateLimiter) Window() time.Duration {
	return l.window
}

func (l *RateLimiter) increment(ctx context.Context, key string) (int64, error) {
	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
