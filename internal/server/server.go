package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/server/handler"
	"github.com/alanyoungcy/signalboard/internal/server/middleware"
	"github.com/alanyoungcy/signalboard/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is the number of API requests allowed per client IP per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Strategies  *handler.StrategyHandler
	Signals     *handler.SignalHandler
	Instruments *handler.InstrumentHandler
	Metrics     http.Handler
}

// Server is the HTTP + websocket API of the signal dashboard.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in the middleware chain.
// Health and metrics are served without authentication. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	api := http.NewServeMux()
	api.HandleFunc("GET /api/catalog", handler.Catalog)
	api.HandleFunc("POST /api/formulas/validate", handler.ValidateFormula)

	api.HandleFunc("GET /api/strategies", handlers.Strategies.List)
	api.HandleFunc("POST /api/strategies", handlers.Strategies.Create)
	api.HandleFunc("POST /api/strategies/{id}/enable", handlers.Strategies.Enable)
	api.HandleFunc("POST /api/strategies/{id}/disable", handlers.Strategies.Disable)

	api.HandleFunc("GET /api/signals", handlers.Signals.List)
	api.HandleFunc("GET /api/signals/recent", handlers.Signals.Recent)
	api.HandleFunc("GET /api/signals/{id}", handlers.Signals.Get)

	api.HandleFunc("GET /api/instruments", handlers.Instruments.List)
	api.HandleFunc("GET /api/instruments/{id}/snapshot", handlers.Instruments.Snapshot)

	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var protected http.Handler = api
	if limiter != nil && cfg.RateLimit > 0 {
		protected = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(protected)
	}
	protected = middleware.Auth(cfg.APIKey)(protected)

	root := http.NewServeMux()
	root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		root.Handle("GET /metrics", handlers.Metrics)
	}
	root.Handle("/", protected)

	var h http.Handler = root
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
