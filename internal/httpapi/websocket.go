package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/session"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/streaming"
)

const writeWait = 10 * time.Second

// WebSocketHandler serves the duplex research protocol. Each connection owns
// exactly one session for its lifetime. A reconnecting client passes the
// clientId from its earlier connection event as ?client_id= to keep its
// history under one key.
type WebSocketHandler struct {
	orch     *session.Orchestrator
	cfg      config.ServerConfig
	auth     *auth.JWTManager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the handler. A nil jwt disables handshake auth.
func NewWebSocketHandler(orch *session.Orchestrator, cfg config.ServerConfig, jwt *auth.JWTManager, logger *zap.Logger) *WebSocketHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 << 10
	}
	h := &WebSocketHandler{orch: orch, cfg: cfg, auth: jwt, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// RegisterRoutes registers /ws on mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleWS)
}

// checkOrigin allows everything when no origins are configured, otherwise an
// exact match or "*". Requests without an Origin header are not from browsers.
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (h *WebSocketHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	if h.auth != nil {
		uc, err := h.auth.Authenticate(r)
		if err != nil {
			h.logger.Debug("WebSocket handshake rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID = uc.UserID
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID != "" {
		if _, err := uuid.Parse(clientID); err != nil {
			writeError(w, http.StatusBadRequest, "client_id must be a UUID")
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s := h.orch.NewSession(clientID, userID, &connSink{conn: conn})

	pongWait := 2 * h.cfg.PingInterval
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	var pinger sync.WaitGroup
	pinger.Add(1)
	go func() {
		defer pinger.Done()
		h.ping(conn, stop)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read failed", zap.String("client_id", s.ID), zap.Error(err))
			}
			break
		}
		// Any client frame proves liveness.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.orch.Handle(s, data)
	}

	close(stop)
	pinger.Wait()
	h.orch.OnDisconnect(s)
}

// ping keeps intermediaries from closing an idle connection. WriteControl may
// run concurrently with the outbox writer.
func (h *WebSocketHandler) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// connSink writes outbox events as JSON text frames. The outbox pump is its
// only caller.
type connSink struct {
	conn *websocket.Conn
}

func (c *connSink) WriteEvent(evt streaming.Event) error {
	data := evt.Marshal()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
