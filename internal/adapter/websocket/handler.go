package websocket

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
)

const clientIDParam = "client_id"

// Handler upgrades HTTP requests to live connections, registers them and
// runs their read loop on the request goroutine.
type Handler struct {
	upgrader websocket.Upgrader
	registry *Registry
	router   *Router
	limits   *ConnectionLimits
	metrics  *metrics.WebSocketMetrics
}

func NewHandler(registry *Registry, router *Router, limits *ConnectionLimits, checkOrigin func(*http.Request) bool, m *metrics.WebSocketMetrics) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		registry: registry,
		router:   router,
		limits:   limits,
		metrics:  m,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	h.Serve(w, r, host)
}

// Serve handles one upgrade for a client at address. It blocks until the
// connection ends.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, address string) {
	if ok, reason := h.limits.Acquire(address); !ok {
		h.metrics.RejectedTotal.WithLabelValues(string(reason)).Inc()
		slog.Warn("WebSocket connection refused", "address", address, "reason", reason)
		status := http.StatusTooManyRequests
		if reason == LimitReasonGlobal {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, string(reason), status)
		return
	}
	defer h.limits.Release(address)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RejectedTotal.WithLabelValues("upgrade_failed").Inc()
		slog.Debug("WebSocket upgrade failed", "address", address, "error", err)
		return
	}

	info, err := h.registry.Connect(conn, r.URL.Query().Get(clientIDParam), address)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, shutdownReason))
		_ = conn.Close()
		return
	}

	h.router.Serve(conn, info)
}
