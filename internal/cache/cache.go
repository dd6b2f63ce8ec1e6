package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bentman/JARVISv5/internal/circuitbreaker"
)

// OperationTimeout bounds every individual Redis call (spec.md §4.5: "A
// 2-second connect/op timeout applies"), matching
// original_source/backend/cache/redis_client.py's
// socket_connect_timeout=2, socket_timeout=2.
const OperationTimeout = 2 * time.Second

// Health is the shape returned by Health(), ported verbatim from
// redis_client.py's health_check().
type Health struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

// Cache is the fail-open KV cache fronting Redis. Any backend error
// degrades to the "absent" result (spec.md §4.5) rather than propagating,
// so callers never need their own Redis error handling.
type Cache struct {
	redis   *circuitbreaker.RedisWrapper
	metrics *Metrics
	logger  *zap.Logger
	enabled bool
}

// New wraps an already-open Redis client. enabled=false makes every
// operation a no-op absent result without touching Redis at all, matching
// the CACHE_ENABLED toggle in spec.md §6.
func New(client *redis.Client, logger *zap.Logger, enabled bool) *Cache {
	return &Cache{
		redis:   circuitbreaker.NewRedisWrapper(client, logger, "cache"),
		metrics: NewMetrics(),
		logger:  logger,
		enabled: enabled,
	}
}

// Metrics exposes the in-process counters for health/debugging endpoints.
func (c *Cache) Metrics() *Metrics { return c.metrics }

// CircuitBreaker exposes the underlying Redis circuit breaker so the admin
// health checker can report its state without duplicating it.
func (c *Cache) CircuitBreaker() *circuitbreaker.RedisWrapper { return c.redis }

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, OperationTimeout)
}

// Get returns (value, true) on a hit, ("", false) on a miss or any backend
// failure (fail-open).
func (c *Cache) Get(ctx context.Context, category, key string) (string, bool) {
	if !c.enabled {
		return "", false
	}
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result := c.redis.Get(cctx, key)
	if err := result.Err(); err != nil {
		if err == redis.Nil {
			c.metrics.RecordMiss(category)
			return "", false
		}
		c.logger.Warn("cache: get failed, failing open", zap.Error(err))
		c.metrics.RecordError(category)
		return "", false
	}
	c.metrics.RecordHit(category)
	return result.Val(), true
}

// Set writes value with the given ttl (0 = no expiry). Returns false on
// any backend failure (fail-open), never an error.
func (c *Cache) Set(ctx context.Context, category, key, value string, ttl time.Duration) bool {
	if !c.enabled {
		return false
	}
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.redis.Set(cctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache: set failed, failing open", zap.Error(err))
		c.metrics.RecordError(category)
		return false
	}
	c.metrics.RecordSet(category)
	return true
}

// Delete removes key. Returns false on any backend failure.
func (c *Cache) Delete(ctx context.Context, category, key string) bool {
	if !c.enabled {
		return false
	}
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.redis.Del(cctx, key).Err(); err != nil {
		c.logger.Warn("cache: delete failed, failing open", zap.Error(err))
		c.metrics.RecordError(category)
		return false
	}
	c.metrics.RecordDelete(category)
	return true
}

// InvalidatePattern deletes every key matching pattern (a Redis glob, e.g.
// "prefix:v1:*") and returns the number removed. Any backend failure
// fails open to 0.
func (c *Cache) InvalidatePattern(ctx context.Context, category, pattern string) int {
	if !c.enabled {
		return 0
	}
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	keys, err := c.redis.ScanKeys(cctx, pattern)
	if err != nil {
		c.logger.Warn("cache: invalidate_pattern scan failed, failing open", zap.Error(err))
		c.metrics.RecordError(category)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	if err := c.redis.Del(cctx, keys...).Err(); err != nil {
		c.logger.Warn("cache: invalidate_pattern delete failed, failing open", zap.Error(err))
		c.metrics.RecordError(category)
		return 0
	}
	for i := 0; i < len(keys); i++ {
		c.metrics.RecordDelete(category)
	}
	return len(keys)
}

// GetJSON decodes a hit into out and returns true, or returns false on a
// miss, backend failure, or decode error (all fail open identically).
func (c *Cache) GetJSON(ctx context.Context, category, key string, out any) bool {
	raw, ok := c.Get(ctx, category, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.logger.Warn("cache: get_json decode failed, treating as miss", zap.Error(err))
		c.metrics.RecordError(category)
		return false
	}
	return true
}

// SetJSON encodes value and stores it with ttl. Returns false on any
// encode or backend failure.
func (c *Cache) SetJSON(ctx context.Context, category, key string, value any, ttl time.Duration) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache: set_json encode failed, failing open", zap.Error(err))
		c.metrics.RecordError(category)
		return false
	}
	return c.Set(ctx, category, key, string(raw), ttl)
}

// HealthCheck reports whether the cache is enabled and, if so, whether the
// backend is currently reachable (ported from redis_client.py's
// health_check()).
func (c *Cache) HealthCheck(ctx context.Context) Health {
	if !c.enabled {
		return Health{Enabled: false, Connected: false, Message: "cache disabled"}
	}
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.redis.Ping(cctx).Err(); err != nil {
		return Health{Enabled: true, Connected: false, Message: err.Error()}
	}
	return Health{Enabled: true, Connected: true, Message: "ok"}
}
