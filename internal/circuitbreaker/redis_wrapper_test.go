package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "test", Settings{}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx))

	err := wrapper.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, "list", "a", "b")
		p.Expire(ctx, "list", time.Minute)
		return nil
	})
	require.NoError(t, err)

	vals, err := wrapper.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, vals)

	vals, err = wrapper.LRange(ctx, "missing", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, vals)
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}

func TestRedisWrapper_OpensWhenServerDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "test-down", Settings{FailureThreshold: 2}, zaptest.NewLogger(t))
	s.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		assert.Error(t, wrapper.Ping(ctx))
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())
	assert.ErrorIs(t, wrapper.Ping(ctx), ErrCircuitBreakerOpen)
}
