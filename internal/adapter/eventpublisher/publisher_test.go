package eventpublisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
)

type fakeBus struct {
	mu        sync.Mutex
	published []domain.BusEvent
	err       error
	block     bool
}

func (b *fakeBus) Publish(ctx context.Context, event domain.BusEvent) error {
	b.mu.Lock()
	err, block := b.err, b.block
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, func([]byte)) error { return nil }
func (b *fakeBus) Connected() bool                              { return true }
func (b *fakeBus) Close() error                                 { return nil }

func (b *fakeBus) calls() []domain.BusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.BusEvent(nil), b.published...)
}

var testItem = domain.Item{ID: 42, Title: "t", Link: "https://example.com/42", Source: domain.SourceHabr}

func newPublisher(bus domain.Bus, timeout time.Duration) (*EventPublisher, *metrics.BusMetrics, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC))
	m := metrics.NewBusMetrics(prometheus.NewRegistry())
	return New(bus, timeout, clock, m), m, clock
}

func TestPublishItemCreated_BuildsEnvelope(t *testing.T) {
	bus := &fakeBus{}
	p, m, _ := newPublisher(bus, time.Second)

	require.NoError(t, p.PublishItemCreated(context.Background(), testItem))

	calls := bus.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.BusEvent{
		Type:      domain.BusEventTypePostCreated,
		PostID:    42,
		Title:     "t",
		Link:      "https://example.com/42",
		Source:    "habr",
		Timestamp: "2025-01-06T10:00:00Z",
	}, calls[0])
	assert.InDelta(t, 1, testutil.ToFloat64(m.Published.WithLabelValues("ok")), 0)
}

func TestPublishItemCreated_NilBusIsNoop(t *testing.T) {
	p, m, _ := newPublisher(nil, time.Second)

	require.NoError(t, p.PublishItemCreated(context.Background(), testItem))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Published.WithLabelValues("disabled")), 0)
}

func TestPublishItemCreated_UnavailableDoesNotTripBreaker(t *testing.T) {
	bus := &fakeBus{err: domain.ErrBusUnavailable}
	p, _, _ := newPublisher(bus, time.Second)

	for range breakerConsecutiveFailures * 2 {
		err := p.PublishItemCreated(context.Background(), testItem)
		assert.ErrorIs(t, err, domain.ErrBusUnavailable)
	}
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestPublishItemCreated_TimeoutIsBounded(t *testing.T) {
	bus := &fakeBus{block: true}
	p, _, _ := newPublisher(bus, 20*time.Millisecond)

	start := time.Now()
	err := p.PublishItemCreated(context.Background(), testItem)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPublishItemCreated_BreakerOpensAndFailsFast(t *testing.T) {
	bus := &fakeBus{err: errors.New("connection reset")}
	p, m, _ := newPublisher(bus, time.Second)

	for range breakerConsecutiveFailures {
		err := p.PublishItemCreated(context.Background(), testItem)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrBusUnavailable)
	}
	require.Equal(t, gobreaker.StateOpen, p.State())
	assert.InDelta(t, 2, testutil.ToFloat64(m.BreakerState), 0)

	bus.mu.Lock()
	bus.err = nil
	bus.mu.Unlock()

	err := p.PublishItemCreated(context.Background(), testItem)
	assert.ErrorIs(t, err, domain.ErrBusUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Empty(t, bus.calls())
}
