package circuitbreaker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPWrapper(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "test-http", "test", Settings{FailureThreshold: 2}, zaptest.NewLogger(t))

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := hw.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	status = http.StatusNotFound
	resp, err = hw.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, StateClosed, hw.State(), "4xx does not trip the breaker")

	status = http.StatusBadGateway
	for i := 0; i < 2; i++ {
		resp, err = hw.Do(req)
		require.NoError(t, err, "5xx is returned to the caller")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, hw.State())

	_, err = hw.Do(req)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}
