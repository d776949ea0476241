package circuitbreaker

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper exposes the Redis commands the history store needs, each
// guarded by one breaker. A redis.Nil reply is a miss, not a failure.
type RedisWrapper struct {
	client redis.UniversalClient
	cb     *CircuitBreaker
}

// NewRedisWrapper registers a breaker named "redis" under service.
func NewRedisWrapper(client redis.UniversalClient, service string, settings Settings, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client: client,
		cb:     NewRegistered("redis", service, settings.WithDefaults(DefaultRedisSettings()), logger),
	}
}

func (rw *RedisWrapper) guard(ctx context.Context, fn func() error) error {
	return rw.cb.Execute(ctx, func() error {
		if err := fn(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		return nil
	})
}

// Ping checks connectivity.
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.guard(ctx, func() error { return rw.client.Ping(ctx).Err() })
}

// TxPipelined runs fn in a MULTI/EXEC pipeline.
func (rw *RedisWrapper) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	return rw.guard(ctx, func() error {
		_, err := rw.client.TxPipelined(ctx, fn)
		return err
	})
}

// LRange returns the list slice, empty for a missing key.
func (rw *RedisWrapper) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var vals []string
	err := rw.guard(ctx, func() error {
		var err error
		vals, err = rw.client.LRange(ctx, key, start, stop).Result()
		return err
	})
	return vals, err
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen reports whether calls are currently rejected.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
