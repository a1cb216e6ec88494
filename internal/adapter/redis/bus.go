package redis

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

type Config struct {
	PublishChannel   string
	SubscribeChannel string
}

// Bus implements domain.Bus on Redis pub/sub.
type Bus struct {
	rdb    *goredis.Client
	cfg    Config
	health *healthHook

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs []*goredis.PubSub
}

// NewBus takes ownership of rdb. connected is the result of the startup ping.
func NewBus(rdb *goredis.Client, cfg Config, m *metrics.BusMetrics, connected bool) *Bus {
	if cfg.SubscribeChannel == "" {
		cfg.SubscribeChannel = cfg.PublishChannel
	}

	health := &healthHook{metrics: m}
	health.up.Store(connected)
	if connected {
		m.Connected.Set(1)
	}
	rdb.AddHook(health)

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{rdb: rdb, cfg: cfg, health: health, ctx: ctx, cancel: cancel}
}

func (b *Bus) Connected() bool {
	return b.health.up.Load()
}

// Publish fails fast with domain.ErrBusUnavailable while the server is known
// to be unreachable. The first command after an outage is still attempted
// and flips the state back on success.
func (b *Bus) Publish(ctx context.Context, event domain.BusEvent) error {
	if !b.Connected() {
		if err := b.rdb.Ping(ctx).Err(); err != nil {
			return domain.ErrBusUnavailable
		}
	}

	data, err := event.Encode()
	if err != nil {
		return err
	}

	if err := b.rdb.Publish(ctx, b.cfg.PublishChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.cfg.PublishChannel, err)
	}
	return nil
}

// Subscribe starts a receive loop on the subscribe channel. go-redis
// resubscribes on its own after a reconnect.
func (b *Bus) Subscribe(ctx context.Context, handler func(payload []byte)) error {
	pubsub := b.rdb.Subscribe(ctx, b.cfg.SubscribeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		slog.Warn("Redis subscribe not confirmed yet, will retry in background",
			"channel", b.cfg.SubscribeChannel, "error", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	ch := pubsub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.dispatch(handler, msg)
			case <-b.ctx.Done():
				return
			}
		}
	}()

	slog.Info("Subscribed to bus channel", "channel", b.cfg.SubscribeChannel)
	return nil
}

func (b *Bus) dispatch(handler func([]byte), msg *goredis.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Bus handler panicked", "channel", msg.Channel, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	handler([]byte(msg.Payload))
}

func (b *Bus) Close() error {
	b.cancel()

	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Close()
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
	if err := b.rdb.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
