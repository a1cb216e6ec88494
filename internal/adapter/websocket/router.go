package websocket

import (
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
)

const (
	inboundMalformed = "malformed"
	inboundUnknown   = "unknown"
)

// Router runs the read loop of each connection and answers its control
// messages. Replies go to the sender only.
type Router struct {
	registry *Registry
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
}

func NewRouter(registry *Registry, clock clockwork.Clock, m *metrics.WebSocketMetrics) *Router {
	return &Router{registry: registry, clock: clock, metrics: m}
}

// Serve reads from conn until the transport fails, then disconnects it.
func (rt *Router) Serve(conn Conn, info domain.ConnectionInfo) {
	defer rt.registry.Disconnect(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("WebSocket read failed", "client_id", info.ID, "error", err)
			}
			return
		}

		rt.registry.touch(conn)
		rt.handle(conn, info, data)
	}
}

func (rt *Router) handle(conn Conn, info domain.ConnectionInfo, data []byte) {
	msg, err := domain.DecodeInbound(data)
	if err != nil {
		rt.metrics.InboundMessages.WithLabelValues(inboundMalformed).Inc()
		slog.Warn("Ignoring malformed client message", "client_id", info.ID, "error", err)
		return
	}

	switch msg.Event {
	case domain.CommandPing:
		rt.metrics.InboundMessages.WithLabelValues(domain.CommandPing).Inc()
		rt.reply(conn, info, domain.Pong{Timestamp: rt.clock.Now()})
	case domain.CommandGetInfo:
		rt.metrics.InboundMessages.WithLabelValues(domain.CommandGetInfo).Inc()
		rt.reply(conn, info, domain.ConnectionsInfo{Data: rt.registry.Info(), Timestamp: rt.clock.Now()})
	default:
		rt.metrics.InboundMessages.WithLabelValues(inboundUnknown).Inc()
		slog.Info("Ignoring unknown client event", "client_id", info.ID, "event", msg.Event)
	}
}

func (rt *Router) reply(conn Conn, info domain.ConnectionInfo, n domain.Notification) {
	if err := rt.registry.SendTo(conn, n); err != nil {
		slog.Debug("Reply not delivered", "client_id", info.ID, "event", n.Event(), "error", err)
	}
}
