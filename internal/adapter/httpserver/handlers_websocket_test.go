package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutulonan/rsspulse/internal/domain"
	"github.com/tutulonan/rsspulse/internal/platform/config"
)

func TestConnectionsListing(t *testing.T) {
	connectedAt := time.Date(2026, 5, 2, 9, 26, 53, 0, time.UTC)
	connections := &mockConnections{infos: []domain.ConnectionInfo{
		{ID: "client_1_092653", ConnectedAt: connectedAt, Address: "192.0.2.10"},
		{ID: "dashboard", ConnectedAt: connectedAt, Address: "192.0.2.11"},
	}}
	srv := newTestServerWith(t, &mockPostService{}, connections, &mockWebSocket{})

	rec := doRequest(srv, http.MethodGet, "/ws/connections", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp connectionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalConnections)
	require.Len(t, resp.Connections, 2)
	assert.Equal(t, "client_1_092653", resp.Connections[0].ID)
	assert.Equal(t, "dashboard", resp.Connections[1].ID)
	assert.Equal(t, "192.0.2.11", resp.Connections[1].Address)
	assert.True(t, connectedAt.Equal(resp.Connections[0].ConnectedAt))
}

func TestConnectionsListingEmpty(t *testing.T) {
	srv := newTestServer(t, &mockPostService{})

	rec := doRequest(srv, http.MethodGet, "/ws/connections", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_connections":0,"connections":[]}`, rec.Body.String())
}

func TestWebSocketRoutePassesClientAddress(t *testing.T) {
	ws := &mockWebSocket{}
	srv := newTestServerWith(t, &mockPostService{}, &mockConnections{}, ws)

	req := httptest.NewRequest(http.MethodGet, "/ws/posts?client_id=dashboard", nil)
	req.RemoteAddr = "192.0.2.44:6000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSwitchingProtocols, rec.Code)
	assert.Equal(t, "192.0.2.44", ws.address)
}

func TestWebSocketRouteClientAddress(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		want       string
	}{
		{"forwarded header ignored by default", false, "192.0.2.44"},
		{"forwarded header used behind trusted proxy", true, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := &mockWebSocket{}
			cfg := &config.Config{Port: "0", AppEnv: "test", TrustProxy: tt.trustProxy}
			srv := NewServer(cfg, &mockPostService{}, &mockConnections{}, ws)

			req := httptest.NewRequest(http.MethodGet, WebSocketRoute, nil)
			req.RemoteAddr = "192.0.2.44:6000"
			req.Header.Set("X-Forwarded-For", "203.0.113.9")
			srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, ws.address)
		})
	}
}
