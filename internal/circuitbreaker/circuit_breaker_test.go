package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errUpstream = errors.New("upstream 502")

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, s Settings) (*CircuitBreaker, *manualClock) {
	t.Helper()
	clk := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return newCircuitBreaker("search-test", "search", s, zaptest.NewLogger(t), clk.Now), clk
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestBreakerTripsAndRecovers(t *testing.T) {
	cb, clk := newTestBreaker(t, Settings{FailureThreshold: 3, SuccessThreshold: 2, Timeout: 30 * time.Second})
	ctx := context.Background()

	for range 3 {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	for range 3 {
		require.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called, "open breaker must not reach the upstream")

	clk.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, cb.State())
	clk.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts(), "closing starts a fresh window")
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(t, Settings{FailureThreshold: 1, SuccessThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(time.Minute)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())

	clk.Advance(59 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitBreakerOpen, "the open timeout restarts")
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cb, clk := newTestBreaker(t, Settings{FailureThreshold: 1, MaxRequests: 2, SuccessThreshold: 5, Timeout: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(ctx, func() error { <-release; return nil })
		}()
	}
	require.Eventually(t, func() bool { return cb.Counts().Requests == 2 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)
	close(release)
	wg.Wait()
	assert.Equal(t, uint32(2), cb.Counts().ConsecutiveSuccesses)
}

func TestClosedWindowRollsOver(t *testing.T) {
	cb, clk := newTestBreaker(t, Settings{FailureThreshold: 3, Interval: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clk.Advance(time.Minute)
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{Requests: 1, TotalFailures: 1, ConsecutiveFailures: 1}, cb.Counts())
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb, _ := newTestBreaker(t, Settings{FailureThreshold: 2})
	ctx := context.Background()

	for range 5 {
		_ = cb.Execute(ctx, fail)
		_ = cb.Execute(ctx, succeed)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{Requests: 10, TotalSuccesses: 5, TotalFailures: 5, ConsecutiveSuccesses: 1}, cb.Counts())
}

func TestOutcomeFromStaleWindowIgnored(t *testing.T) {
	cb, clk := newTestBreaker(t, Settings{FailureThreshold: 1, Interval: time.Minute})

	err := cb.Execute(context.Background(), func() error {
		clk.Advance(2 * time.Minute)
		return errUpstream
	})
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
}

func TestCancelledCallIsNotCharged(t *testing.T) {
	cb, _ := newTestBreaker(t, Settings{FailureThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.Execute(ctx, func() error { return ctx.Err() })

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
}

func TestPanicCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(t, Settings{FailureThreshold: 1})

	assert.PanicsWithValue(t, "boom", func() {
		_ = cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestObserversRunOutsideLock(t *testing.T) {
	cb, clk := newTestBreaker(t, Settings{FailureThreshold: 1, Timeout: time.Second})

	var seen []transition
	cb.Observe(func(from, to State) {
		// Re-entering the breaker would deadlock if observers ran under the lock.
		_ = cb.Counts()
		seen = append(seen, transition{from, to})
	})

	_ = cb.Execute(context.Background(), fail)
	clk.Advance(time.Second)
	_ = cb.State()

	assert.Equal(t, []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
	}, seen)
}

func TestCallReturnsValue(t *testing.T) {
	cb, _ := newTestBreaker(t, Settings{})
	n, err := Call(context.Background(), cb, func(context.Context) (int, error) { return 8, nil })
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "search-test", cb.Name())
}

func TestSettingsWithDefaults(t *testing.T) {
	s := Settings{FailureThreshold: 9}.WithDefaults(DefaultLLMSettings())
	assert.Equal(t, uint32(9), s.FailureThreshold)
	assert.Equal(t, DefaultLLMSettings().Timeout, s.Timeout)
	assert.Equal(t, DefaultLLMSettings().MaxRequests, s.MaxRequests)

	cb, _ := newTestBreaker(t, Settings{})
	assert.Equal(t, DefaultHTTPSettings(), cb.settings)
}

func TestRegistryStates(t *testing.T) {
	r := NewRegistry()
	a, _ := newTestBreaker(t, Settings{FailureThreshold: 1})
	r.Add(a)
	r.Add(NewCircuitBreaker("llm-openai", "llm", Settings{}, nil))

	_ = a.Execute(context.Background(), fail)
	assert.Equal(t, map[string]State{
		"search:search-test": StateOpen,
		"llm:llm-openai":     StateClosed,
	}, r.States())
	r.refresh()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(7).String())
}
