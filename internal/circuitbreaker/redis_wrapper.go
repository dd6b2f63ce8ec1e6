package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps a Redis client with a circuit breaker. It is the
// transport underneath the Cache component: every method degrades to a
// fail-open result (caller sees a command error, never a panic) once the
// breaker trips, so callers that already tolerate Redis errors tolerate
// circuit-breaker trips for free.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	logger  *zap.Logger
	service string
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker. service
// labels the wrapper's metrics (e.g. "cache").
func NewRedisWrapper(client *redis.Client, logger *zap.Logger, service string) *RedisWrapper {
	config := GetRedisConfig().ToConfig()
	cb := NewCircuitBreaker("redis", config, logger)

	GlobalMetricsCollector.RegisterCircuitBreaker("redis", service, cb)

	return &RedisWrapper{
		client:  client,
		cb:      cb,
		logger:  logger,
		service: service,
	}
}

func (rw *RedisWrapper) record(success bool) {
	GlobalMetricsCollector.RecordRequest("redis", rw.service, rw.cb.State(), success)
}

// Ping wraps Redis Ping with circuit breaker.
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})

	success := err == nil && (result == nil || result.Err() == nil)
	rw.record(success)

	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Get wraps Redis Get with circuit breaker. redis.Nil is not a failure.
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})

	success := err == nil && (result == nil || result.Err() == nil || result.Err() == redis.Nil)
	rw.record(success)

	if err != nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Set wraps Redis Set with circuit breaker.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})

	success := err == nil && (result == nil || result.Err() == nil)
	rw.record(success)

	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Del wraps Redis Del with circuit breaker.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	})

	success := err == nil && (result == nil || result.Err() == nil)
	rw.record(success)

	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// ScanKeys walks the keyspace for pattern via Redis SCAN (not KEYS, so it
// never blocks the server on a large keyspace), circuit-breaker-guarded as
// a single logical operation.
func (rw *RedisWrapper) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string

	err := rw.cb.Execute(ctx, func() error {
		keys = nil
		iter := rw.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})

	rw.record(err == nil)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close wraps Redis Close.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the underlying Redis client for operations not covered
// by the wrapper.
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
