package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedLimiter implements fixed-window rate limiting backed by Redis
// so admission decisions are shared across search-daemon instances.
type DistributedLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewDistributedLimiter creates a Redis-backed limiter allowing limit
// requests per window per key.
func NewDistributedLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *DistributedLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedLimiter{
		redis:  client,
		limit:  limit,
		window: window,
		prefix: prefix,
	}
}

// Allow checks whether the request identified by key is admitted. On Redis
// error it fails open: a broken cache cluster must not take search down.
func (dl *DistributedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", dl.prefix, key)

	pipe := dl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, dl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(dl.limit), nil
}

// Remaining returns the number of requests left in the current window.
func (dl *DistributedLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", dl.prefix, key)

	count, err := dl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return dl.limit, nil
	} else if err != nil {
		return 0, err
	}

	remaining := dl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
