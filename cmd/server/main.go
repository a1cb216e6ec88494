package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/tutulonan/rsspulse/internal/adapter/eventpublisher"
	"github.com/tutulonan/rsspulse/internal/adapter/feed"
	"github.com/tutulonan/rsspulse/internal/adapter/httpserver"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	natsbus "github.com/tutulonan/rsspulse/internal/adapter/nats"
	"github.com/tutulonan/rsspulse/internal/adapter/postgres"
	redisbus "github.com/tutulonan/rsspulse/internal/adapter/redis"
	"github.com/tutulonan/rsspulse/internal/adapter/sqlite"
	"github.com/tutulonan/rsspulse/internal/adapter/websocket"
	"github.com/tutulonan/rsspulse/internal/app"
	"github.com/tutulonan/rsspulse/internal/domain"
	"github.com/tutulonan/rsspulse/internal/platform/config"
	"github.com/tutulonan/rsspulse/internal/platform/logging"
	"github.com/tutulonan/rsspulse/internal/platform/retry"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	dbConnectTimeout  = 60 * time.Second
	busConnectTimeout = 5 * time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (domain.ItemRepository, func()) {
	if cfg.DatabaseDriver() == "sqlite" {
		db, err := sqlite.Open(cfg.SQLitePath())
		if err != nil {
			slog.Error("Failed to open database", "error", err)
			os.Exit(1)
		}
		return sqlite.NewItemRepo(db, clock), func() { _ = db.Close() }
	}

	ctx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    6,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Clock:          clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	pool, err := retry.Do(ctx, policy, retry.Always, func(ctx context.Context) (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return postgres.NewItemRepo(pool, clock), pool.Close
}

// setupBus returns a nil Bus when BUS_DRIVER=none. A broker that is down at
// startup is not fatal; both drivers reconnect in the background.
func setupBus(ctx context.Context, cfg *config.Config, m *metrics.BusMetrics) domain.Bus {
	switch cfg.BusDriver {
	case config.BusDriverNATS:
		bus, err := natsbus.Connect(natsbus.Config{
			URL:              cfg.NATSURL,
			PublishSubject:   cfg.BusSubject,
			SubscribeSubject: cfg.BusSubscribeSubject,
		}, m)
		if err != nil {
			slog.Error("Failed to create NATS bus", "error", err)
			os.Exit(1)
		}
		return bus

	case config.BusDriverRedis:
		ctx, cancel := context.WithTimeout(ctx, busConnectTimeout)
		defer cancel()

		client, ping := redisbus.NewClient(ctx, cfg.RedisURL)
		if client == nil {
			slog.Error("Failed to create Redis client", "error", ping)
			os.Exit(1)
		}
		if ping != nil {
			slog.Warn("Redis unreachable at startup, continuing without bus", "error", ping)
		}
		return redisbus.NewBus(client, redisbus.Config{
			PublishChannel:   cfg.BusSubject,
			SubscribeChannel: cfg.BusSubscribeSubject,
		}, m, ping == nil)

	default:
		slog.Info("Message bus disabled")
		return nil
	}
}

func healthChecks(items domain.ItemRepository, bus domain.Bus) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{
		{Name: "database", Check: items.Ping},
	}
	if bus != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name: "bus",
			Check: func(context.Context) error {
				if !bus.Connected() {
					return domain.ErrBusUnavailable
				}
				return nil
			},
		})
	}
	return checks
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "feed", cfg.FeedURL, "bus", cfg.BusDriver)

	reg := metrics.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	pollerMetrics := metrics.NewPollerMetrics(reg)
	busMetrics := metrics.NewBusMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg, httpserver.WebSocketRoute)

	items, closeStore := setupStore(ctx, cfg, clock)
	defer closeStore()

	bus := setupBus(ctx, cfg, busMetrics)
	publisher := eventpublisher.New(bus, cfg.BusPublishTimeout, clock, busMetrics)

	registry := websocket.NewRegistry(clock, wsMetrics)
	router := websocket.NewRouter(registry, clock, wsMetrics)
	limits := websocket.NewConnectionLimits(clock, int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.WebSocketConnectRate)
	wsHandler := websocket.NewHandler(registry, router, limits, websocket.NewCheckOrigin(cfg.AllowedOrigins(), cfg.IsDevelopment()), wsMetrics)

	source := feed.NewSource(feed.Config{
		URL:      cfg.FeedURL,
		Source:   cfg.FeedSource,
		MaxItems: cfg.FeedMaxItems,
		Timeout:  cfg.FeedFetchTimeout,
	}, nil)
	poller := app.NewPoller(source, items, publisher, registry, clock, cfg.PollInterval, pollerMetrics)
	posts := app.NewPostService(items, publisher, registry, poller, clock)

	if bus != nil {
		relay := app.NewRelay(bus, registry, clock, busMetrics)
		if err := relay.Start(ctx); err != nil {
			slog.Error("Failed to start bus relay", "error", err)
			os.Exit(1)
		}
	}

	srv := httpserver.NewServer(cfg, posts, registry, wsHandler,
		httpserver.WithMetrics(metrics.Handler(reg), httpMetrics),
		httpserver.WithHealthChecks(healthChecks(items, bus)...),
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		poller.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := registry.Shutdown(shutdownCtx); err != nil {
			slog.Error("Connection registry shutdown error", "error", err)
		}
		return nil
	})

	err := g.Wait()

	if bus != nil {
		if err := bus.Close(); err != nil {
			slog.Error("Failed to close bus", "error", err)
		}
	}

	if err != nil {
		slog.Error("Server error", "error", err)
		closeStore()
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
