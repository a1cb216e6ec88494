package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
	"github.com/tutulonan/rsspulse/internal/platform/correlation"
	"golang.org/x/sync/singleflight"
)

const pollKey = "poll"

// PollerState is the lifecycle state of the poll loop.
type PollerState int32

const (
	PollerStopped PollerState = iota
	PollerRunning
)

func (s PollerState) String() string {
	if s == PollerRunning {
		return "running"
	}
	return "stopped"
}

// Poller fetches the feed on a fixed interval, stores unseen items and
// announces each one on the bus and to live connections.
type Poller struct {
	source      domain.FeedSource
	items       domain.ItemRepository
	publisher   domain.EventPublisher
	broadcaster domain.Broadcaster
	clock       clockwork.Clock
	interval    time.Duration
	metrics     *metrics.PollerMetrics

	group singleflight.Group
	state atomic.Int32

	mu   sync.Mutex
	life context.Context
}

func NewPoller(source domain.FeedSource, items domain.ItemRepository, publisher domain.EventPublisher, broadcaster domain.Broadcaster, clock clockwork.Clock, interval time.Duration, m *metrics.PollerMetrics) *Poller {
	return &Poller{
		source:      source,
		items:       items,
		publisher:   publisher,
		broadcaster: broadcaster,
		clock:       clock,
		interval:    interval,
		metrics:     m,
	}
}

// State reports whether Run is active.
func (p *Poller) State() PollerState {
	return PollerState(p.state.Load())
}

// Run polls until ctx is cancelled. A failed cycle is logged and the loop
// waits for the next interval; nothing stops it except ctx.
func (p *Poller) Run(ctx context.Context) {
	p.setLifetime(ctx)
	p.setState(PollerRunning)
	defer func() {
		p.setState(PollerStopped)
		p.setLifetime(nil)
	}()

	slog.Info("Poller started", "interval", p.interval)
	for ctx.Err() == nil {
		_, _ = p.RunOnce(ctx)

		select {
		case <-ctx.Done():
		case <-p.clock.After(p.interval):
		}
	}
	slog.Info("Poller stopped")
}

func (p *Poller) setState(s PollerState) {
	p.state.Store(int32(s))
	if s == PollerRunning {
		p.metrics.Running.Set(1)
	} else {
		p.metrics.Running.Set(0)
	}
}

func (p *Poller) setLifetime(ctx context.Context) {
	p.mu.Lock()
	p.life = ctx
	p.mu.Unlock()
}

// lifetime is the context shared cycles run on: the Run context while the
// loop is active, otherwise Background.
func (p *Poller) lifetime() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.life == nil {
		return context.Background()
	}
	return p.life
}

// RunOnce runs a single cycle and returns the newly stored items. Calls
// that overlap an in-flight cycle share its result. The cycle itself is not
// bound to ctx: a caller that gives up returns ctx.Err() while the cycle
// carries on for the others.
func (p *Poller) RunOnce(ctx context.Context) ([]domain.Item, error) {
	ch := p.group.DoChan(pollKey, func() (any, error) {
		return p.cycle(correlation.WithID(p.lifetime(), correlation.NewID()))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.Item), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Poller) cycle(ctx context.Context) ([]domain.Item, error) {
	start := p.clock.Now()
	defer func() { p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds()) }()

	drafts, err := p.source.Fetch(ctx)
	if err != nil && ctx.Err() != nil {
		p.metrics.CyclesTotal.WithLabelValues("cancelled").Inc()
		return nil, ctx.Err()
	}
	if err != nil {
		p.metrics.CyclesTotal.WithLabelValues("fetch_error").Inc()
		slog.WarnContext(ctx, "Poll: fetch failed, skipping cycle", "error", err)
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		p.metrics.CyclesTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	added, err := p.items.TryInsertAll(ctx, drafts)
	if err != nil {
		p.metrics.CyclesTotal.WithLabelValues("store_error").Inc()
		slog.ErrorContext(ctx, "Poll: store failed", "candidates", len(drafts), "error", err)
		return nil, fmt.Errorf("store items: %w", err)
	}

	// The rows are committed; announcing them must not depend on ctx.
	announceCtx := context.WithoutCancel(ctx)
	for _, item := range added {
		publish(announceCtx, p.publisher, item)
		p.broadcaster.Broadcast(domain.NewPost{Payload: item.Projection(), Timestamp: p.clock.Now()})
	}

	p.metrics.CyclesTotal.WithLabelValues("ok").Inc()
	p.metrics.ItemsAdded.Add(float64(len(added)))
	p.metrics.LastSuccess.Set(float64(p.clock.Now().Unix()))
	slog.InfoContext(ctx, "Poll: cycle complete", "candidates", len(drafts), "added", len(added))

	if added == nil {
		added = []domain.Item{}
	}
	return added, nil
}

// publish announces item on the bus. Failures are logged and dropped.
func publish(ctx context.Context, publisher domain.EventPublisher, item domain.Item) {
	err := publisher.PublishItemCreated(ctx, item)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrBusUnavailable):
		slog.WarnContext(ctx, "Bus unavailable, notification dropped", "post_id", item.ID, "link", item.Link)
	default:
		slog.ErrorContext(ctx, "Failed to publish notification", "post_id", item.ID, "link", item.Link, "error", err)
	}
}
