// Package health aggregates component checks into liveness and readiness.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckStatus represents the result of a health check
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON writes the status name.
func (s CheckStatus) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// CheckResult contains the result of a health check
type CheckResult struct {
	Status    CheckStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	Critical  bool           `json:"critical"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	// IsCritical reports whether a failure makes the service not ready.
	IsCritical() bool
	Timeout() time.Duration
}

// Overall is the aggregated service health.
type Overall struct {
	Status     CheckStatus            `json:"status"`
	Message    string                 `json:"message"`
	Ready      bool                   `json:"ready"`
	Live       bool                   `json:"live"`
	Timestamp  time.Time              `json:"timestamp"`
	Components map[string]CheckResult `json:"components,omitempty"`
}

// Manager runs registered checkers.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *zap.Logger
	draining atomic.Bool
}

// Drain marks the service not ready so load balancers stop routing new
// WebSocket connections during shutdown. Liveness is unaffected.
func (m *Manager) Drain() {
	if !m.draining.Swap(true) {
		m.logger.Info("Health reporting not ready, draining")
	}
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{checkers: make(map[string]Checker), logger: logger}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = c
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()),
		zap.Duration("timeout", c.Timeout()))
	return nil
}

// Names lists registered checkers.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checkers))
	for n := range m.checkers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Check runs every checker concurrently and aggregates the results.
func (m *Manager) Check(ctx context.Context) Overall {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = runCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	byName := make(map[string]CheckResult, len(results))
	for _, r := range results {
		byName[r.Component] = r
	}
	overall := aggregate(byName)
	if m.draining.Load() {
		overall.Ready = false
		overall.Message = "draining: " + overall.Message
	}
	overall.Timestamp = time.Now()
	overall.Components = byName
	return overall
}

func runCheck(ctx context.Context, c Checker) CheckResult {
	timeout := c.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := c.Check(checkCtx)
	result.Component = c.Name()
	result.Critical = c.IsCritical()
	result.Duration = time.Since(start)
	result.Timestamp = start
	return result
}

// aggregate applies the rules: a failing critical component makes the service
// unhealthy and not ready; degraded or failing non-critical components only
// degrade it. No checkers means unknown.
func aggregate(components map[string]CheckResult) Overall {
	if len(components) == 0 {
		return Overall{Status: StatusUnknown, Message: "No health checks registered", Live: true}
	}

	var criticalFailures, nonCriticalFailures, degraded int
	for _, r := range components {
		switch {
		case r.Status == StatusDegraded:
			degraded++
		case r.Status == StatusUnhealthy && r.Critical:
			criticalFailures++
		case r.Status == StatusUnhealthy:
			nonCriticalFailures++
		}
	}

	switch {
	case criticalFailures > 0:
		return Overall{Status: StatusUnhealthy, Message: fmt.Sprintf("%d critical component(s) failing", criticalFailures), Live: true}
	case degraded > 0:
		return Overall{Status: StatusDegraded, Message: fmt.Sprintf("%d component(s) degraded", degraded), Ready: true, Live: true}
	case nonCriticalFailures > 0:
		return Overall{Status: StatusDegraded, Message: fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures), Ready: true, Live: true}
	default:
		return Overall{Status: StatusHealthy, Message: fmt.Sprintf("All %d components healthy", len(components)), Ready: true, Live: true}
	}
}
