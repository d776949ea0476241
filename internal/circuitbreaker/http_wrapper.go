package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tracing"
)

// HTTPWrapper sends requests for one HTTP upstream through its breaker.
type HTTPWrapper struct {
	client *http.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewHTTPWrapper registers a breaker named name for client. A nil client gets
// a 15s timeout.
func NewHTTPWrapper(client *http.Client, name, service string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWrapper{
		client: client,
		cb:     NewRegistered(name, service, settings.WithDefaults(DefaultHTTPSettings()), logger),
		logger: logger,
	}
}

// upstreamStatus charges a 5xx to the breaker while the response itself
// still reaches the caller.
type upstreamStatus struct{ code int }

func (e *upstreamStatus) Error() string { return http.StatusText(e.code) }

// Do sends req with the caller's traceparent. Transport errors and 5xx
// responses count against the breaker; 4xx responses do not.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	tracing.InjectTraceparent(req.Context(), req)

	resp, err := Call(req.Context(), hw.cb, func(_ context.Context) (*http.Response, error) {
		resp, err := hw.client.Do(req)
		if err == nil && resp.StatusCode >= http.StatusInternalServerError {
			return resp, &upstreamStatus{code: resp.StatusCode}
		}
		return resp, err
	})

	var status *upstreamStatus
	if errors.As(err, &status) {
		return resp, nil
	}
	if err != nil {
		hw.logger.Debug("Upstream request failed",
			zap.String("breaker", hw.cb.Name()),
			zap.String("url", req.URL.Redacted()),
			zap.String("state", hw.cb.State().String()),
			zap.Error(err))
	}
	return resp, err
}

// State reports the breaker state.
func (hw *HTTPWrapper) State() State { return hw.cb.State() }
