package circuitbreaker

import (
	"time"
)

// Settings tune a breaker. They are read from the circuit_breaker key of the
// llm, tools and history config sections.
type Settings struct {
	// MaxRequests caps concurrent probes while half-open.
	MaxRequests uint32 `mapstructure:"max_requests"`
	// Interval resets the closed-state counts; zero never resets them.
	Interval time.Duration `mapstructure:"interval"`
	// Timeout is how long the breaker stays open before probing.
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
}

// DefaultHTTPSettings is used for search and fetch providers.
func DefaultHTTPSettings() Settings {
	return Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

// DefaultLLMSettings tolerates the slower, burstier failures of model APIs.
func DefaultLLMSettings() Settings {
	return Settings{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// DefaultRedisSettings is used for the task history store.
func DefaultRedisSettings() Settings {
	return Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

// WithDefaults fills the zero fields of s from def.
func (s Settings) WithDefaults(def Settings) Settings {
	if s.MaxRequests == 0 {
		s.MaxRequests = def.MaxRequests
	}
	if s.Interval == 0 {
		s.Interval = def.Interval
	}
	if s.Timeout == 0 {
		s.Timeout = def.Timeout
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = def.FailureThreshold
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = def.SuccessThreshold
	}
	return s
}
