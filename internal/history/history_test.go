package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStore(t *testing.T, cfg Config) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, cfg, zaptest.NewLogger(t)), s
}

func TestRedisStoreRecordAndRecent(t *testing.T) {
	store, mr := newStore(t, DefaultConfig())
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, Entry{
			TaskID:     fmt.Sprintf("t%d", i),
			ClientID:   "c1",
			Message:    "分析新能源汽车市场",
			Status:     "completed",
			StartedAt:  start,
			FinishedAt: start.Add(time.Second),
			DurationMs: 1000,
		}))
	}

	got, err := store.Recent(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t2", got[0].TaskID, "newest first")
	assert.Equal(t, "t1", got[1].TaskID)
	assert.Equal(t, start, got[0].StartedAt.UTC())

	assert.True(t, mr.TTL("researchd:history:c1") > 0)

	none, err := store.Recent(ctx, "other", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRedisStoreTrims(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	store, _ := newStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, Entry{TaskID: fmt.Sprintf("t%d", i), ClientID: "c1"}))
	}
	got, err := store.Recent(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t4", got[0].TaskID)
}

func TestRedisStoreSkipsMalformed(t *testing.T) {
	store, mr := newStore(t, DefaultConfig())
	_, err := mr.Lpush("researchd:history:c1", "{not json")
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), Entry{TaskID: "ok", ClientID: "c1"}))

	got, err := store.Recent(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].TaskID)
}

func TestRedisStoreServerDown(t *testing.T) {
	store, mr := newStore(t, DefaultConfig())
	require.NoError(t, store.Ping(context.Background()))
	mr.Close()

	err := store.Record(context.Background(), Entry{TaskID: "t", ClientID: "c1"})
	assert.Error(t, err)
}

func TestNopStore(t *testing.T) {
	var s Store = NopStore{}
	require.NoError(t, s.Record(context.Background(), Entry{}))
	got, err := s.Recent(context.Background(), "c", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}
