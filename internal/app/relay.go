package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
)

// Relay forwards envelopes published by other services to live connections
// as external_post notifications.
type Relay struct {
	bus         domain.Bus
	broadcaster domain.Broadcaster
	clock       clockwork.Clock
	metrics     *metrics.BusMetrics
}

func NewRelay(bus domain.Bus, broadcaster domain.Broadcaster, clock clockwork.Clock, m *metrics.BusMetrics) *Relay {
	return &Relay{bus: bus, broadcaster: broadcaster, clock: clock, metrics: m}
}

// Start subscribes once. The subscription lives until the bus is closed.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.bus.Subscribe(ctx, r.Handle); err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	return nil
}

// Handle decodes one bus payload and broadcasts it. Undecodable payloads
// are counted and dropped.
func (r *Relay) Handle(payload []byte) {
	r.metrics.Received.Inc()

	event, err := domain.DecodeBusEvent(payload)
	if err != nil {
		r.metrics.InvalidEvents.Inc()
		slog.Warn("Dropping invalid bus message", "error", err, "size", len(payload))
		return
	}

	timestamp := event.Timestamp
	if timestamp == "" {
		timestamp = r.clock.Now().UTC().Format(time.RFC3339Nano)
	}

	delivered := r.broadcaster.Broadcast(domain.ExternalPost{Payload: event, Timestamp: timestamp})
	slog.Debug("Relayed bus event", "type", event.Type, "post_id", event.PostID, "delivered", delivered)
}
