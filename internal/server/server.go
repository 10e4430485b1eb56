// Package server provides the HTTP API for flowd's serve mode.
//
// The server accepts workflow runs over POST /v1/runs, executes each on its
// own goroutine with a fresh engine and workspace, and exposes run status
// and a live SSE event stream bridged from NATS. Health and Prometheus
// metrics endpoints round out the surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/model"
)

// Server is the flowd HTTP server.
type Server struct {
	echo     *echo.Echo
	config   *config.Config
	nc       *nats.Conn
	logger   *zap.Logger
	registry *Registry

	newClient func() (model.Client, error)
}

// Option configures a Server.
type Option func(*Server)

// WithClientFactory overrides how the server builds a model client for each
// run. Tests use it to substitute scripted clients.
func WithClientFactory(f func() (model.Client, error)) Option {
	return func(s *Server) {
		if f != nil {
			s.newClient = f
		}
	}
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// New creates the HTTP server. The NATS connection carries run events and
// is owned by the caller.
func New(cfg *config.Config, nc *nats.Conn, logger *zap.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:     e,
		config:   cfg,
		nc:       nc,
		logger:   logger,
		registry: NewRegistry(),
	}
	s.newClient = func() (model.Client, error) {
		return model.New(cfg.Model)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

// requestLogger logs each request with method, path, status and duration.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/events", s.handleRunEvents)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: s.config.Observability.ServiceName,
	})
}

// Start starts the HTTP server and blocks until the context is cancelled.
// Cancellation triggers graceful shutdown with the configured timeout; a
// clean shutdown returns http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.Server.ShutdownTimeout,
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Registry returns the server's run registry.
func (s *Server) Registry() *Registry {
	return s.registry
}
