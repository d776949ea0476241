package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/circuitbreaker"
)

func static(name string, critical bool, status CheckStatus) Checker {
	return NewFuncChecker(name, critical, time.Second, func(context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		status   CheckStatus
		ready    bool
	}{
		{"none", nil, StatusUnknown, false},
		{"all healthy", []Checker{static("a", true, StatusHealthy), static("b", false, StatusHealthy)}, StatusHealthy, true},
		{"critical failing", []Checker{static("a", true, StatusUnhealthy), static("b", false, StatusHealthy)}, StatusUnhealthy, false},
		{"non-critical failing", []Checker{static("a", true, StatusHealthy), static("b", false, StatusUnhealthy)}, StatusDegraded, true},
		{"degraded", []Checker{static("a", true, StatusDegraded)}, StatusDegraded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(zap.NewNop())
			for _, c := range tt.checkers {
				require.NoError(t, m.RegisterChecker(c))
			}
			o := m.Check(context.Background())
			assert.Equal(t, tt.status, o.Status)
			assert.Equal(t, tt.ready, o.Ready)
			assert.True(t, o.Live)
			assert.Len(t, o.Components, len(tt.checkers))
		})
	}
}

func TestRegisterChecker(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(static("a", true, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(static("a", true, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(static("", true, StatusHealthy)))
	assert.Equal(t, []string{"a"}, m.Names())
}

func TestCheckTimeout(t *testing.T) {
	m := NewManager(zap.NewNop())
	slow := NewFuncChecker("slow", true, 20*time.Millisecond, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	})
	require.NoError(t, m.RegisterChecker(slow))

	o := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, o.Status)
	assert.Equal(t, "slow", o.Components["slow"].Component)
	assert.True(t, o.Components["slow"].Critical)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rw := circuitbreaker.NewRedisWrapper(client, "history-test", circuitbreaker.DefaultRedisSettings(), zap.NewNop())
	c := NewRedisChecker(rw, false)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	mr.Close()
	res := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)

	down := NewRedisChecker(pingFunc(func(context.Context) error { return errors.New("refused") }), true)
	assert.True(t, down.IsCritical())
	assert.Equal(t, "refused", down.Check(context.Background()).Error)
}

func TestBreakerChecker(t *testing.T) {
	states := map[string]circuitbreaker.State{"llm:llm-openai": circuitbreaker.StateClosed}
	b := &BreakerChecker{states: func() map[string]circuitbreaker.State { return states }}
	assert.Equal(t, StatusHealthy, b.Check(context.Background()).Status)

	states["search:search-brave"] = circuitbreaker.StateOpen
	res := b.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Contains(t, res.Message, "search:search-brave")
	assert.False(t, b.IsCritical())
}

func TestHTTPRoutes(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(static("pipeline", true, StatusHealthy)))
	var failing atomic.Bool
	require.NoError(t, m.RegisterChecker(NewFuncChecker("redis", true, time.Second, func(context.Context) CheckResult {
		if failing.Load() {
			return CheckResult{Status: StatusUnhealthy}
		}
		return CheckResult{Status: StatusHealthy}
	})))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zap.NewNop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, _ = get("/health/ready")
	assert.Equal(t, http.StatusOK, code)

	failing.Store(true)
	code, body = get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	code, body = get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["ok"])

	code, body = get("/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])
}

func TestDrainFailsReadinessOnly(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.RegisterChecker(static("pipeline", true, StatusHealthy)))
	require.True(t, m.Check(context.Background()).Ready)

	m.Drain()
	m.Drain()
	o := m.Check(context.Background())
	assert.False(t, o.Ready)
	assert.True(t, o.Live)
	assert.Equal(t, StatusHealthy, o.Status)
	assert.Contains(t, o.Message, "draining")
}
