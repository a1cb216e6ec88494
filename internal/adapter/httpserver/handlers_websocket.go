package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tutulonan/rsspulse/internal/domain"
)

// WebSocketRoute is the upgrade endpoint. Its requests live as long as the
// connection, so HTTP request metrics leave it out.
const WebSocketRoute = "/ws/posts"

type connectionsResponse struct {
	TotalConnections int                     `json:"total_connections"`
	Connections      []domain.ConnectionInfo `json:"connections"`
}

func (s *Server) registerWebSocketRoutes() {
	s.echo.GET(WebSocketRoute, s.handleWebSocket)
	s.echo.GET("/ws/connections", s.handleConnections)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	s.websocket.Serve(c.Response(), c.Request(), c.RealIP())
	return nil
}

func (s *Server) handleConnections(c echo.Context) error {
	infos := s.connections.Info()
	if infos == nil {
		infos = []domain.ConnectionInfo{}
	}

	resp := connectionsResponse{TotalConnections: len(infos), Connections: infos}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
