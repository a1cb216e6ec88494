// Package eventpublisher announces stored items on the message bus,
// best-effort and with a bounded delay for the caller.
package eventpublisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
)

const (
	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second
)

// EventPublisher implements domain.EventPublisher. Each publish runs under a
// timeout and a circuit breaker, so a dead bus costs the caller at most one
// timeout per breaker probe.
type EventPublisher struct {
	bus     domain.Bus
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	clock   clockwork.Clock
	metrics *metrics.BusMetrics
}

// New returns a publisher over bus. A nil bus turns every publish into a no-op.
func New(bus domain.Bus, timeout time.Duration, clock clockwork.Clock, m *metrics.BusMetrics) *EventPublisher {
	p := &EventPublisher{bus: bus, timeout: timeout, clock: clock, metrics: m}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bus-publish",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A known-down link is a skip, not a failed attempt.
			return err == nil || errors.Is(err, domain.ErrBusUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			m.BreakerState.Set(stateToFloat(to))
		},
	})
	return p
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// PublishItemCreated sends the rss_post_created envelope for item.
// domain.ErrBusUnavailable is returned when the bus is down or the breaker
// is open; callers log it and move on.
func (p *EventPublisher) PublishItemCreated(ctx context.Context, item domain.Item) error {
	if p.bus == nil {
		p.metrics.Published.WithLabelValues("disabled").Inc()
		return nil
	}

	event := domain.NewBusEvent(item, p.clock.Now())

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.bus.Publish(ctx, event)
	})

	switch {
	case err == nil:
		p.metrics.Published.WithLabelValues("ok").Inc()
		return nil
	case errors.Is(err, domain.ErrBusUnavailable):
		p.metrics.Published.WithLabelValues("unavailable").Inc()
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.metrics.Published.WithLabelValues("breaker_open").Inc()
		return fmt.Errorf("%w: %w", domain.ErrBusUnavailable, err)
	default:
		p.metrics.Published.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish item %d: %w", item.ID, err)
	}
}

// State reports the breaker state, for readiness checks and tests.
func (p *EventPublisher) State() gobreaker.State {
	return p.cb.State()
}
