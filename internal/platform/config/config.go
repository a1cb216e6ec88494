package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	BusDriverNATS  = "nats"
	BusDriverRedis = "redis"
	BusDriverNone  = "none"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8000"`
	DatabaseURL string `env:"DATABASE_URL" default:"sqlite://rss.db"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	FeedURL          string        `env:"FEED_URL" default:"https://habr.com/ru/rss/hubs/all/updates/"`
	FeedSource       string        `env:"FEED_SOURCE" default:"habr"`
	FeedMaxItems     int           `env:"FEED_MAX_ITEMS" default:"10"`
	FeedFetchTimeout time.Duration `env:"FEED_FETCH_TIMEOUT" default:"30s"`
	PollInterval     time.Duration `env:"POLL_INTERVAL" default:"5m"`

	BusDriver           string        `env:"BUS_DRIVER" default:"nats"`
	NATSURL             string        `env:"NATS_URL" default:"nats://localhost:4222"`
	RedisURL            string        `env:"REDIS_URL" default:"redis://localhost:6379/0"`
	BusSubject          string        `env:"BUS_SUBJECT" default:"rss.updates"`
	BusSubscribeSubject string        `env:"BUS_SUBSCRIBE_SUBJECT"`
	BusPublishTimeout   time.Duration `env:"BUS_PUBLISH_TIMEOUT" default:"2s"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	WebSocketConnectRate    float64 `env:"WEBSOCKET_CONNECT_RATE" default:"10"`
	WebSocketOrigins        string  `env:"WEBSOCKET_ALLOWED_ORIGINS"`

	// TrustProxy takes the client address from X-Forwarded-For. Enable only
	// behind a proxy that sets the header.
	TrustProxy bool `env:"TRUST_PROXY" default:"false"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.BusSubscribeSubject == "" {
		cfg.BusSubscribeSubject = cfg.BusSubject
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DatabaseDriver reports which store DATABASE_URL selects: "sqlite" or "postgres".
func (c *Config) DatabaseDriver() string {
	if strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		return "sqlite"
	}
	return "postgres"
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// AllowedOrigins splits WEBSOCKET_ALLOWED_ORIGINS on commas. An empty result
// means any origin may connect.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.WebSocketOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimSuffix(o, "/"))
		}
	}
	return origins
}

// SQLitePath returns the file path part of a sqlite:// URL.
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite://")
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"FEED_URL":     cfg.FeedURL,
		"FEED_SOURCE":  cfg.FeedSource,
		"BUS_SUBJECT":  cfg.BusSubject,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if _, err := url.ParseRequestURI(cfg.FeedURL); err != nil {
		return fmt.Errorf("FEED_URL must be an absolute URL: %w", err)
	}

	switch cfg.DatabaseDriver() {
	case "sqlite":
		if cfg.SQLitePath() == "" {
			return errors.New("DATABASE_URL sqlite:// must name a file")
		}
	default:
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			return fmt.Errorf("DATABASE_URL must start with sqlite:// or postgres://, got %q", cfg.DatabaseURL)
		}
	}

	switch cfg.BusDriver {
	case BusDriverNATS:
		if cfg.NATSURL == "" {
			return errors.New("NATS_URL is required when BUS_DRIVER=nats")
		}
	case BusDriverRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when BUS_DRIVER=redis")
		}
	case BusDriverNone:
	default:
		return fmt.Errorf("BUS_DRIVER must be one of nats, redis, none, got %q", cfg.BusDriver)
	}

	if cfg.FeedMaxItems < 1 {
		return fmt.Errorf("FEED_MAX_ITEMS must be positive, got %d", cfg.FeedMaxItems)
	}
	if cfg.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 1s, got %s", cfg.PollInterval)
	}
	if cfg.FeedFetchTimeout <= 0 {
		return fmt.Errorf("FEED_FETCH_TIMEOUT must be positive, got %s", cfg.FeedFetchTimeout)
	}
	if cfg.BusPublishTimeout <= 0 {
		return fmt.Errorf("BUS_PUBLISH_TIMEOUT must be positive, got %s", cfg.BusPublishTimeout)
	}
	if cfg.MaxWebSocketConnections < 1 {
		return fmt.Errorf("MAX_WEBSOCKET_CONNECTIONS must be positive, got %d", cfg.MaxWebSocketConnections)
	}
	if cfg.MaxConnectionsPerIP < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive, got %d", cfg.MaxConnectionsPerIP)
	}
	if cfg.WebSocketConnectRate <= 0 {
		return fmt.Errorf("WEBSOCKET_CONNECT_RATE must be positive, got %g", cfg.WebSocketConnectRate)
	}

	return nil
}
