package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler serves /health, /health/ready and /health/live.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHTTPHandler returns a handler over manager.
func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes adds the health routes to mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		overall := h.manager.Check(r.Context())
		h.reply(w, overall.Status != StatusUnhealthy && overall.Status != StatusUnknown, overall)
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		overall := h.manager.Check(r.Context())
		status := "ready"
		if !overall.Ready {
			status = "not ready"
		}
		h.reply(w, overall.Ready, probe{Status: status, OK: overall.Ready, Message: overall.Message, Timestamp: time.Now().Unix()})
	})
	// Liveness runs no checks: answering is enough.
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, _ *http.Request) {
		h.reply(w, true, probe{Status: "alive", OK: true, Timestamp: time.Now().Unix()})
	})
}

type probe struct {
	Status    string `json:"status"`
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *HTTPHandler) reply(w http.ResponseWriter, ok bool, body any) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Health response not written", zap.Error(err))
	}
}
