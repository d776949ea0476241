package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "researchd_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_circuit_breaker_requests_total",
			Help: "Calls offered to a circuit breaker by admitted state and result (success, failure, cancelled, rejected)",
		},
		[]string{"name", "service", "state", "result"},
	)

	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_circuit_breaker_failures_total",
			Help: "Upstream failures charged to a circuit breaker",
		},
		[]string{"name", "service"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchd_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state changes",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	openSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "researchd_circuit_breaker_open_since_seconds",
			Help: "Unix time the breaker last opened, 0 while not open",
		},
		[]string{"name", "service"},
	)
)

func recordTransition(name, service string, from, to State) {
	transitionsTotal.WithLabelValues(name, service, from.String(), to.String()).Inc()
	stateGauge.WithLabelValues(name, service).Set(float64(to))
	switch {
	case to == StateOpen:
		openSince.WithLabelValues(name, service).SetToCurrentTime()
	case from == StateOpen:
		openSince.WithLabelValues(name, service).Set(0)
	}
}

// Registry tracks the process's breakers for the health checker and the
// state gauge refresh.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Registered holds every breaker built by NewRegistered.
var Registered = NewRegistry()

// Add tracks cb under "service:name", replacing an earlier breaker with the
// same key.
func (r *Registry) Add(cb *CircuitBreaker) {
	r.mu.Lock()
	r.breakers[cb.service+":"+cb.name] = cb
	r.mu.Unlock()
	stateGauge.WithLabelValues(cb.name, cb.service).Set(float64(cb.State()))
}

// States returns the state of every tracked breaker keyed by "service:name".
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for key, cb := range r.breakers {
		out[key] = cb.State()
	}
	return out
}

// refresh republishes the state gauge. State applies due timed transitions,
// so an idle open breaker still reports half-open once its timeout passes.
func (r *Registry) refresh() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		stateGauge.WithLabelValues(cb.name, cb.service).Set(float64(cb.State()))
	}
}

// NewRegistered creates a breaker tracked by Registered.
func NewRegistered(name, service string, s Settings, logger *zap.Logger) *CircuitBreaker {
	cb := NewCircuitBreaker(name, service, s, logger)
	Registered.Add(cb)
	return cb
}

// RefreshGauges republishes Registered's state gauge every interval until
// ctx is done.
func RefreshGauges(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				Registered.refresh()
			}
		}
	}()
}
