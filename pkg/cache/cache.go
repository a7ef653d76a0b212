package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
)

// ErrCacheMiss is returned when a key is absent from every tier.
var ErrCacheMiss = errors.New("cache miss")

// Tier names reported in metrics and the X-Cache-Status header.
const (
	TierLocal       = "local"
	TierDistributed = "distributed"
	TierMiss        = "miss"
)

// Config holds multi-tier cache settings.
type Config struct {
	// LocalMaxEntries bounds the process-local LRU tier.
	LocalMaxEntries int
	// LocalTTL is the local tier's TTL; it must not exceed DistributedTTL.
	LocalTTL time.Duration
	// DistributedTTL is the default TTL for the Redis tier.
	DistributedTTL time.Duration
}

// DefaultConfig returns the default cache configuration for search
// responses: 300s in Redis, a shorter local TTL, 1024 local entries.
func DefaultConfig() Config {
	return Config{
		LocalMaxEntries: 1024,
		LocalTTL:        60 * time.Second,
		DistributedTTL:  300 * time.Second,
	}
}

// MultiTier is the two-tier cache. The Redis client is optional: with a nil
// client the cache runs local-only, which is also the behavior when Redis
// errors at runtime.
type MultiTier struct {
	config  Config
	local   *lru.LRU[string, []byte]
	redis   *redis.Client
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewMultiTier creates a cache with a fresh local tier over the given Redis
// client. metrics may be nil.
func NewMultiTier(config Config, redisClient *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *MultiTier {
	if config.LocalMaxEntries <= 0 {
		config = DefaultConfig()
	}
	if config.LocalTTL > config.DistributedTTL {
		config.LocalTTL = config.DistributedTTL
	}

	return &MultiTier{
		config:  config,
		local:   lru.NewLRU[string, []byte](config.LocalMaxEntries, nil, config.LocalTTL),
		redis:   redisClient,
		metrics: metrics,
		logger:  logger,
	}
}

// Get returns the cached value and the tier that served it, or ErrCacheMiss.
func (c *MultiTier) Get(ctx context.Context, key string) ([]byte, string, error) {
	if value, ok := c.local.Get(key); ok {
		c.recordHit(TierLocal)
		return value, TierLocal, nil
	}
	c.recordMiss(TierLocal)

	if c.redis == nil {
		return nil, TierMiss, ErrCacheMiss
	}

	value, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.recordMiss(TierDistributed)
		return nil, TierMiss, ErrCacheMiss
	}
	if err != nil {
		// Redis trouble reads as a miss; the store still answers.
		if c.logger != nil {
			c.logger.WithError(err).Warn("distributed cache read failed")
		}
		c.recordMiss(TierDistributed)
		return nil, TierMiss, ErrCacheMiss
	}

	c.recordHit(TierDistributed)
	c.local.Add(key, value)
	return value, TierDistributed, nil
}

// Set writes the value to both tiers. ttl applies to the Redis tier; zero
// falls back to the configured default. The local tier always uses its own
// shorter TTL.
func (c *MultiTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.local.Add(key, value)

	if c.redis == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.config.DistributedTTL
	}
	if err := c.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		if c.logger != nil {
			c.logger.WithError(err).Warn("distributed cache write failed")
		}
		return err
	}
	return nil
}

// Delete removes the key from both tiers.
func (c *MultiTier) Delete(ctx context.Context, key string) error {
	c.local.Remove(key)
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, key).Err()
}

// PurgeLocal empties the process-local tier. Used after bulk loads so stale
// responses don't outlive an ETL run on the same host.
func (c *MultiTier) PurgeLocal() {
	c.local.Purge()
}

// LocalLen reports the number of live local-tier entries.
func (c *MultiTier) LocalLen() int {
	return c.local.Len()
}

func (c *MultiTier) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *MultiTier) recordMiss(tier string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}
