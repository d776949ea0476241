// Package circuitbreaker isolates researchd from failing upstreams. Each
// search provider, the page fetcher, the model endpoint and the history store
// sit behind their own breaker so that one outage fails fast instead of
// stalling every task until its timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the position of a breaker. Its numeric value is exported as the
// researchd_circuit_breaker_state gauge.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{"closed", "half-open", "open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// Counts describes the current window. A window starts at every state
// change and, while closed, every Interval.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// the caller gave up; the upstream is not at fault
	outcomeAbandoned
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeFailure:
		return "failure"
	default:
		return "cancelled"
	}
}

type transition struct{ from, to State }

// CircuitBreaker guards one upstream dependency.
type CircuitBreaker struct {
	name     string
	service  string
	settings Settings
	logger   *zap.Logger
	clock    func() time.Time

	mu        sync.Mutex
	state     State
	epoch     uint64
	counts    Counts
	deadline  time.Time
	pending   []transition
	observers []func(from, to State)
}

// NewCircuitBreaker returns a closed breaker. Zero fields of s take the HTTP
// defaults.
func NewCircuitBreaker(name, service string, s Settings, logger *zap.Logger) *CircuitBreaker {
	return newCircuitBreaker(name, service, s, logger, time.Now)
}

func newCircuitBreaker(name, service string, s Settings, logger *zap.Logger, clock func() time.Time) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := &CircuitBreaker{
		name:     name,
		service:  service,
		settings: s.WithDefaults(DefaultHTTPSettings()),
		logger:   logger.With(zap.String("breaker", name), zap.String("service", service)),
		clock:    clock,
	}
	cb.startWindow(clock())
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Observe registers fn to run after every state change. fn runs outside the
// breaker lock and may call back into the breaker.
func (cb *CircuitBreaker) Observe(fn func(from, to State)) {
	cb.mu.Lock()
	cb.observers = append(cb.observers, fn)
	cb.mu.Unlock()
}

// Execute runs fn unless the breaker is open or the half-open probe budget
// is spent. A panic in fn counts as a failure and is re-raised. An error
// returned after ctx is done is not charged to the upstream.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	epoch, admitted, err := cb.admit()
	if err != nil {
		requestsTotal.WithLabelValues(cb.name, cb.service, admitted.String(), "rejected").Inc()
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(epoch, admitted, outcomeFailure)
			panic(r)
		}
	}()

	err = fn()
	switch {
	case err == nil:
		cb.settle(epoch, admitted, outcomeSuccess)
	case ctx.Err() != nil:
		cb.settle(epoch, admitted, outcomeAbandoned)
	default:
		cb.settle(epoch, admitted, outcomeFailure)
	}
	return err
}

// Call runs fn through cb and returns its value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func() error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// State returns the current state, applying any timed transition that is due.
func (cb *CircuitBreaker) State() State {
	var s State
	cb.locked(func(now time.Time) { s, _ = cb.advance(now) })
	return s
}

// Counts returns a copy of the current window.
func (cb *CircuitBreaker) Counts() Counts {
	var c Counts
	cb.locked(func(now time.Time) {
		cb.advance(now)
		c = cb.counts
	})
	return c
}

// locked runs fn under the lock, then announces the transitions fn caused.
func (cb *CircuitBreaker) locked(fn func(now time.Time)) {
	cb.mu.Lock()
	fn(cb.clock())
	pending, observers := cb.pending, cb.observers
	cb.pending = nil
	cb.mu.Unlock()

	for _, tr := range pending {
		cb.announce(tr, observers)
	}
}

func (cb *CircuitBreaker) admit() (epoch uint64, state State, err error) {
	cb.locked(func(now time.Time) {
		state, epoch = cb.advance(now)
		switch {
		case state == StateOpen:
			err = ErrCircuitBreakerOpen
		case state == StateHalfOpen && cb.counts.Requests >= cb.settings.MaxRequests:
			err = ErrTooManyRequests
		default:
			cb.counts.Requests++
		}
	})
	return epoch, state, err
}

// settle applies an outcome. Outcomes from an earlier window are dropped.
func (cb *CircuitBreaker) settle(epoch uint64, admitted State, o outcome) {
	cb.locked(func(now time.Time) {
		state, current := cb.advance(now)
		if current != epoch {
			return
		}
		switch o {
		case outcomeSuccess:
			cb.counts.TotalSuccesses++
			cb.counts.ConsecutiveSuccesses++
			cb.counts.ConsecutiveFailures = 0
			if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.settings.SuccessThreshold {
				cb.moveTo(StateClosed, now)
			}
		case outcomeFailure:
			cb.counts.TotalFailures++
			cb.counts.ConsecutiveFailures++
			cb.counts.ConsecutiveSuccesses = 0
			if state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.settings.FailureThreshold {
				cb.moveTo(StateOpen, now)
			}
		case outcomeAbandoned:
			if cb.counts.Requests > 0 {
				cb.counts.Requests--
			}
		}
	})

	requestsTotal.WithLabelValues(cb.name, cb.service, admitted.String(), o.String()).Inc()
	if o == outcomeFailure {
		failuresTotal.WithLabelValues(cb.name, cb.service).Inc()
	}
}

// advance applies the transition due at now: the closed window rolls over,
// an open breaker starts probing.
func (cb *CircuitBreaker) advance(now time.Time) (State, uint64) {
	if !cb.deadline.IsZero() && !now.Before(cb.deadline) {
		switch cb.state {
		case StateClosed:
			cb.startWindow(now)
		case StateOpen:
			cb.moveTo(StateHalfOpen, now)
		}
	}
	return cb.state, cb.epoch
}

func (cb *CircuitBreaker) moveTo(to State, now time.Time) {
	if cb.state == to {
		return
	}
	cb.pending = append(cb.pending, transition{from: cb.state, to: to})
	cb.state = to
	cb.startWindow(now)
}

func (cb *CircuitBreaker) startWindow(now time.Time) {
	cb.epoch++
	cb.counts = Counts{}
	switch {
	case cb.state == StateOpen:
		cb.deadline = now.Add(cb.settings.Timeout)
	case cb.state == StateClosed && cb.settings.Interval > 0:
		cb.deadline = now.Add(cb.settings.Interval)
	default:
		cb.deadline = time.Time{}
	}
}

func (cb *CircuitBreaker) announce(tr transition, observers []func(from, to State)) {
	recordTransition(cb.name, cb.service, tr.from, tr.to)

	log := cb.logger.Info
	if tr.to == StateOpen {
		log = cb.logger.Warn
	}
	log("Circuit breaker state changed",
		zap.String("from", tr.from.String()),
		zap.String("to", tr.to.String()))

	for _, fn := range observers {
		fn(tr.from, tr.to)
	}
}
