// Package history records finished research tasks per client.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/metrics"
)

// Entry is the outcome of one task.
type Entry struct {
	TaskID     string    `json:"task_id"`
	ClientID   string    `json:"client_id"`
	UserID     string    `json:"user_id,omitempty"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Store persists task outcomes.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, clientID string, n int) ([]Entry, error)
}

// Config enables the Redis store.
type Config struct {
	Enabled    bool                    `mapstructure:"enabled"`
	Addr       string                  `mapstructure:"addr"`
	Password   string                  `mapstructure:"password"`
	DB         int                     `mapstructure:"db"`
	KeyPrefix  string                  `mapstructure:"key_prefix"`
	MaxEntries int64                   `mapstructure:"max_entries"`
	TTL        time.Duration           `mapstructure:"ttl"`
	Breaker    circuitbreaker.Settings `mapstructure:"circuit_breaker"`
}

// DefaultConfig keeps history disabled.
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		KeyPrefix:  "researchd:history:",
		MaxEntries: 100,
		TTL:        7 * 24 * time.Hour,
		Breaker:    circuitbreaker.DefaultRedisSettings(),
	}
}

// NopStore discards entries.
type NopStore struct{}

func (NopStore) Record(context.Context, Entry) error { return nil }

func (NopStore) Recent(context.Context, string, int) ([]Entry, error) { return nil, nil }

// RedisStore keeps a capped, expiring list per client.
type RedisStore struct {
	rw     *circuitbreaker.RedisWrapper
	cfg    Config
	logger *zap.Logger
}

// NewRedisStore wraps client with a circuit breaker.
func NewRedisStore(client redis.UniversalClient, cfg Config, logger *zap.Logger) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	return &RedisStore{
		rw:     circuitbreaker.NewRedisWrapper(client, "history", cfg.Breaker, logger),
		cfg:    cfg,
		logger: logger,
	}
}

func (s *RedisStore) key(clientID string) string { return s.cfg.KeyPrefix + clientID }

// Record implements Store.
func (s *RedisStore) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	key := s.key(e.ClientID)
	err = s.rw.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, data)
		p.LTrim(ctx, key, 0, s.cfg.MaxEntries-1)
		if s.cfg.TTL > 0 {
			p.Expire(ctx, key, s.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		metrics.HistoryWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("record history: %w", err)
	}
	metrics.HistoryWrites.WithLabelValues("ok").Inc()
	return nil
}

// Recent implements Store, newest first.
func (s *RedisStore) Recent(ctx context.Context, clientID string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := s.rw.LRange(ctx, s.key(clientID), 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			s.logger.Warn("Skipping malformed history entry", zap.String("client_id", clientID), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping checks the backing Redis.
func (s *RedisStore) Ping(ctx context.Context) error { return s.rw.Ping(ctx) }

// Close closes the client.
func (s *RedisStore) Close() error { return s.rw.Close() }
