package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	"github.com/tutulonan/rsspulse/internal/domain"
	"github.com/tutulonan/rsspulse/internal/platform/config"
)

type postService interface {
	List(ctx context.Context, offset, limit int) ([]domain.Item, error)
	Get(ctx context.Context, id int64) (*domain.Item, error)
	Create(ctx context.Context, draft domain.ItemDraft) (*domain.Item, error)
	Update(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error)
	Delete(ctx context.Context, id int64) error
	RunPoll(ctx context.Context) (int, error)
}

type connectionDirectory interface {
	Count() int
	Info() []domain.ConnectionInfo
}

// websocketHandler upgrades a request from the client at address and blocks
// for the lifetime of the connection.
type websocketHandler interface {
	Serve(w http.ResponseWriter, r *http.Request, address string)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	posts       postService
	connections connectionDirectory
	websocket   websocketHandler

	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics
	healthChecks   []HealthCheck
	startTime      time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics serves handler on /metrics and records request metrics with m.
func WithMetrics(handler http.Handler, m *metrics.HTTPMetrics) Option {
	return func(s *Server) {
		s.metricsHandler = handler
		s.httpMetrics = m
	}
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) {
		s.healthChecks = append(s.healthChecks, checks...)
	}
}

func NewServer(cfg *config.Config, posts postService, connections connectionDirectory, ws websocketHandler, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = echo.ExtractIPDirect()
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	}

	srv := &Server{
		echo:        e,
		config:      cfg,
		posts:       posts,
		connections: connections,
		websocket:   ws,
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}
