package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/circuitbreaker"
)

// Pinger is satisfied by the history store and the Redis wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisChecker checks Redis connectivity
type RedisChecker struct {
	pinger   Pinger
	critical bool
	timeout  time.Duration
}

// NewRedisChecker creates a Redis health checker. History is optional for
// serving chats, so callers usually pass critical=false.
func NewRedisChecker(p Pinger, critical bool) *RedisChecker {
	return &RedisChecker{pinger: p, critical: critical, timeout: 3 * time.Second}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return r.critical }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := r.pinger.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "Redis ping failed",
			Error:   err.Error(),
			Details: map[string]any{"latency_ms": latency.Milliseconds()},
		}
	}
	// High latency counts as degraded.
	if latency > 100*time.Millisecond {
		return CheckResult{Status: StatusDegraded, Message: "Redis responding but with high latency",
			Details: map[string]any{"latency_ms": latency.Milliseconds()}}
	}
	return CheckResult{Status: StatusHealthy, Message: "Redis healthy",
		Details: map[string]any{"latency_ms": latency.Milliseconds()}}
}

// BreakerChecker reports open circuit breakers as degraded. Upstreams behind a
// breaker (search, fetch, LLM) have fallbacks, so it is never critical.
type BreakerChecker struct {
	states func() map[string]circuitbreaker.State
}

// NewBreakerChecker reads breaker states from the global collector.
func NewBreakerChecker() *BreakerChecker {
	return &BreakerChecker{states: circuitbreaker.Registered.States}
}

func (b *BreakerChecker) Name() string           { return "circuit_breakers" }
func (b *BreakerChecker) IsCritical() bool       { return false }
func (b *BreakerChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerChecker) Check(context.Context) CheckResult {
	states := b.states()
	details := make(map[string]any, len(states))
	var open []string
	for key, st := range states {
		details[key] = st.String()
		if st == circuitbreaker.StateOpen {
			open = append(open, key)
		}
	}
	if len(open) > 0 {
		sort.Strings(open)
		return CheckResult{Status: StatusDegraded, Message: "open: " + strings.Join(open, ", "), Details: details}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d breaker(s) closed", len(states)), Details: details}
}

// FuncChecker adapts a function.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) CheckResult
}

// NewFuncChecker creates a checker from fn.
func NewFuncChecker(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, timeout: timeout, fn: fn}
}

func (c *FuncChecker) Name() string           { return c.name }
func (c *FuncChecker) IsCritical() bool       { return c.critical }
func (c *FuncChecker) Timeout() time.Duration { return c.timeout }

func (c *FuncChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }
