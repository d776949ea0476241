// Package httpapi exposes the research service over HTTP: the WebSocket
// protocol endpoint, task history, health and Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/health"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/history"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/session"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Deps are the collaborators served by the mux.
type Deps struct {
	Orchestrator *session.Orchestrator
	Health       *health.Manager
	History      history.Store
	Auth         *auth.JWTManager
}

// NewServer builds the HTTP server for cfg.
func NewServer(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewMux(cfg, deps, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// NewMux registers every route.
func NewMux(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	NewWebSocketHandler(deps.Orchestrator, cfg, deps.Auth, logger).RegisterRoutes(mux)
	if deps.Health != nil {
		health.NewHTTPHandler(deps.Health, logger).RegisterRoutes(mux)
	}
	store := deps.History
	if store == nil {
		store = history.NopStore{}
	}
	(&HistoryHandler{store: store, auth: deps.Auth, logger: logger}).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// HistoryHandler lists recent task outcomes of a client.
type HistoryHandler struct {
	store  history.Store
	auth   *auth.JWTManager
	logger *zap.Logger
}

// RegisterRoutes registers GET /history/{clientID}.
func (h *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /history/{clientID}", h.handleList)
}

// handleList returns the newest entries first. With auth enabled only the
// caller's own entries are returned.
func (h *HistoryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var userID string
	if h.auth != nil {
		uc, err := h.auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID = uc.UserID
	}

	limit := defaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	clientID := r.PathValue("clientID")
	entries, err := h.store.Recent(r.Context(), clientID, limit)
	if err != nil {
		h.logger.Error("Failed to read task history", zap.String("client_id", clientID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}

	out := make([]history.Entry, 0, len(entries))
	for _, e := range entries {
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"client_id": clientID, "entries": out})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
