package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
)

const (
	greetingMessage = "WebSocket connected successfully"
	shutdownReason  = "server shutting down"
)

type connection struct {
	conn   Conn
	info   domain.ConnectionInfo
	writer *clientWriter
}

// Registry tracks live connections in connect order. Every mutation happens
// under mu; writes to peers happen on each connection's own writer goroutine,
// never under mu.
type Registry struct {
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics

	mu          sync.Mutex
	connections map[Conn]*connection
	order       []*connection
	ids         map[string]int
	closed      bool
}

func NewRegistry(clock clockwork.Clock, m *metrics.WebSocketMetrics) *Registry {
	return &Registry{
		clock:       clock,
		metrics:     m,
		connections: make(map[Conn]*connection),
		ids:         make(map[string]int),
	}
}

// Connect registers conn, starts its writer and queues the
// connection_established greeting. An empty requestedID is replaced by a
// synthesized client_<n>_<HHMMSS> id that no live connection holds.
func (r *Registry) Connect(conn Conn, requestedID, address string) (domain.ConnectionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.ConnectionInfo{}, domain.ErrConnectionClosed
	}
	if existing, ok := r.connections[conn]; ok {
		return existing.info, nil
	}

	now := r.clock.Now()
	id := requestedID
	if id == "" {
		id = r.synthesizeID()
	}

	c := &connection{
		conn: conn,
		info: domain.ConnectionInfo{ID: id, ConnectedAt: now, Address: address},
	}
	c.writer = newClientWriter(conn, r.clock, func() { r.dropFailed(conn) })

	r.connections[conn] = c
	r.order = append(r.order, c)
	r.ids[id]++

	r.metrics.ActiveConnections.Set(float64(len(r.order)))
	r.metrics.ConnectionsTotal.Inc()

	greeting, err := domain.EncodeNotification(domain.ConnectionEstablished{
		ClientID:  id,
		Timestamp: now,
		Message:   greetingMessage,
	})
	if err == nil && c.writer.enqueue(greeting) {
		r.metrics.MessagesSent.WithLabelValues(string(domain.EventConnectionEstablished)).Inc()
	}

	slog.Info("WebSocket client connected", "client_id", id, "address", address, "total", len(r.order))
	return c.info, nil
}

// synthesizeID must be called with mu held.
func (r *Registry) synthesizeID() string {
	suffix := r.clock.Now().Format("150405")
	for n := len(r.order) + 1; ; n++ {
		id := fmt.Sprintf("client_%d_%s", n, suffix)
		if r.ids[id] == 0 {
			return id
		}
	}
}

// Disconnect removes conn and closes it. Calling it for an unknown or
// already removed connection is a no-op.
func (r *Registry) Disconnect(conn Conn) {
	c := r.remove(conn)
	if c == nil {
		return
	}
	c.writer.stop()
	slog.Info("WebSocket client disconnected", "client_id", c.info.ID, "total", r.Count())
}

func (r *Registry) remove(conn Conn) *connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[conn]
	if !ok {
		return nil
	}
	delete(r.connections, conn)
	r.order = slices.DeleteFunc(r.order, func(o *connection) bool { return o == c })
	if r.ids[c.info.ID]--; r.ids[c.info.ID] <= 0 {
		delete(r.ids, c.info.ID)
	}
	r.metrics.ActiveConnections.Set(float64(len(r.order)))
	return c
}

// dropFailed runs on the writer goroutine after its loop has exited.
func (r *Registry) dropFailed(conn Conn) {
	c := r.remove(conn)
	if c == nil {
		return
	}
	r.metrics.DeliveryFailures.Inc()
	c.writer.stop()
	slog.Warn("WebSocket write failed, connection dropped", "client_id", c.info.ID)
}

// SendTo queues n for exactly one connection. When the connection is gone or
// cannot take the message it is disconnected and ErrConnectionClosed is
// returned.
func (r *Registry) SendTo(conn Conn, n domain.Notification) error {
	data, err := domain.EncodeNotification(n)
	if err != nil {
		return err
	}

	r.mu.Lock()
	c, ok := r.connections[conn]
	r.mu.Unlock()
	if !ok {
		return domain.ErrConnectionClosed
	}

	if !c.writer.enqueue(data) {
		r.metrics.DeliveryFailures.Inc()
		r.Disconnect(conn)
		return domain.ErrConnectionClosed
	}
	r.metrics.MessagesSent.WithLabelValues(string(n.Event())).Inc()
	return nil
}

// Broadcast queues n for every registered connection and returns how many
// accepted it.
func (r *Registry) Broadcast(n domain.Notification) int {
	return r.BroadcastExcept(n)
}

// BroadcastExcept queues n for every connection registered when the call
// starts, skipping exclude. Connections that cannot take the message are
// disconnected after the whole pass.
func (r *Registry) BroadcastExcept(n domain.Notification, exclude ...Conn) int {
	data, err := domain.EncodeNotification(n)
	if err != nil {
		slog.Error("Failed to encode notification", "event", n.Event(), "error", err)
		return 0
	}

	var failed []Conn
	delivered := 0
	for _, c := range r.snapshot() {
		if slices.Contains(exclude, c.conn) {
			continue
		}
		if c.writer.enqueue(data) {
			delivered++
			continue
		}
		failed = append(failed, c.conn)
	}

	if delivered > 0 {
		r.metrics.MessagesSent.WithLabelValues(string(n.Event())).Add(float64(delivered))
	}
	for _, conn := range failed {
		r.metrics.DeliveryFailures.Inc()
		r.Disconnect(conn)
	}

	slog.Debug("Broadcast notification", "event", n.Event(), "delivered", delivered, "failed", len(failed))
	return delivered
}

// SendToClientID queues n for the first connection holding client id.
func (r *Registry) SendToClientID(id string, n domain.Notification) bool {
	for _, c := range r.snapshot() {
		if c.info.ID == id {
			return r.SendTo(c.conn, n) == nil
		}
	}
	slog.Warn("WebSocket client not found", "client_id", id)
	return false
}

// Info lists live connections in connect order.
func (r *Registry) Info() []domain.ConnectionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]domain.ConnectionInfo, len(r.order))
	for i, c := range r.order {
		infos[i] = c.info
	}
	return infos
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Shutdown refuses further connects and closes every connection with a
// close frame. It returns when all connections are closed or ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	all := r.order
	r.order = nil
	r.connections = make(map[Conn]*connection)
	r.ids = make(map[string]int)
	r.metrics.ActiveConnections.Set(0)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, c := range all {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.writer.stopGraceful(shutdownReason)
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("WebSocket registry shut down", "closed", len(all))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("websocket shutdown: %w", ctx.Err())
	}
}

func (r *Registry) snapshot() []*connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// touch extends the read deadline of conn after inbound traffic.
func (r *Registry) touch(conn Conn) {
	r.mu.Lock()
	c, ok := r.connections[conn]
	r.mu.Unlock()
	if ok {
		c.writer.extendReadDeadline()
	}
}
