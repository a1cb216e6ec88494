// Package nats implements the message bus on NATS core pub/sub.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
)

const (
	defaultFlushTimeout = 2 * time.Second
	reconnectWait       = 2 * time.Second
)

type Config struct {
	URL              string
	PublishSubject   string
	SubscribeSubject string
	ClientName       string
}

// Bus implements domain.Bus. The connection keeps reconnecting in the
// background, so a NATS outage at startup or later only turns Publish into
// a no-op until the link comes back.
type Bus struct {
	nc      *natsgo.Conn
	cfg     Config
	metrics *metrics.BusMetrics

	mu   sync.Mutex
	subs []*natsgo.Subscription
}

func Connect(cfg Config, m *metrics.BusMetrics) (*Bus, error) {
	if cfg.SubscribeSubject == "" {
		cfg.SubscribeSubject = cfg.PublishSubject
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "rsspulse"
	}

	b := &Bus{cfg: cfg, metrics: m}

	nc, err := natsgo.Connect(cfg.URL,
		natsgo.Name(cfg.ClientName),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(reconnectWait),
		natsgo.ConnectHandler(func(*natsgo.Conn) { b.setConnected(true, "connected") }),
		natsgo.ReconnectHandler(func(*natsgo.Conn) { b.setConnected(true, "reconnected") }),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			b.setConnected(false, "disconnected")
			if err != nil {
				slog.Warn("NATS connection lost", "error", err)
			}
		}),
		natsgo.ClosedHandler(func(*natsgo.Conn) { b.setConnected(false, "closed") }),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, sub *natsgo.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS async error", "subject", subject, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b.nc = nc

	if nc.IsConnected() {
		b.setConnected(true, "connected")
	} else {
		slog.Warn("NATS unreachable at startup, retrying in background", "url", cfg.URL)
	}
	return b, nil
}

func (b *Bus) setConnected(up bool, state string) {
	if up {
		b.metrics.Connected.Set(1)
	} else {
		b.metrics.Connected.Set(0)
	}
	slog.Info("NATS connection state", "state", state, "url", b.cfg.URL)
}

func (b *Bus) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Publish sends the envelope and waits for the server to acknowledge the
// flush, bounded by ctx (or a default timeout when ctx has no deadline).
func (b *Bus) Publish(ctx context.Context, event domain.BusEvent) error {
	if !b.Connected() {
		return domain.ErrBusUnavailable
	}

	data, err := event.Encode()
	if err != nil {
		return err
	}

	msg := natsgo.NewMsg(b.cfg.PublishSubject)
	msg.Header.Set(natsgo.MsgIdHdr, uuid.NewString())
	msg.Data = data

	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.cfg.PublishSubject, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush publish to %s: %w", b.cfg.PublishSubject, err)
	}
	return nil
}

// Subscribe registers handler on the subscribe subject. A panicking handler
// is recovered so the subscription keeps delivering.
func (b *Bus) Subscribe(_ context.Context, handler func(payload []byte)) error {
	sub, err := b.nc.Subscribe(b.cfg.SubscribeSubject, func(msg *natsgo.Msg) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Bus handler panicked", "subject", msg.Subject, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.cfg.SubscribeSubject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	slog.Info("Subscribed to bus subject", "subject", b.cfg.SubscribeSubject)
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() error {
	if b.nc == nil {
		return nil
	}
	if b.nc.IsConnected() {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
			return fmt.Errorf("failed to drain NATS connection: %w", err)
		}
		return nil
	}
	b.nc.Close()
	return nil
}
