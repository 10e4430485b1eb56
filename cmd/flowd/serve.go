package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve workflows over HTTP",
	Long: `Start the flowd HTTP server. Runs are accepted on POST /v1/runs and
execute concurrently; each streams its events over SSE at
GET /v1/runs/:id/events via NATS. When no external broker is configured
an embedded one is started.

Examples:
  # Serve on the configured port with an embedded event broker
  flowd serve

  # Use an external NATS broker
  FLOWD_EVENTS_NATS_URL=nats://localhost:4222 flowd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	return serve(ctx)
}

// serve starts the HTTP server and blocks until ctx is cancelled. A clean
// shutdown returns nil.
func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := buildLogger(cfg, tel, false)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting flowd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("service", cfg.Observability.ServiceName),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	nc, cleanup, err := connectBroker(cfg.Events.NATSURL, logger.Underlying())
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := server.New(cfg, nc, logger.Underlying())
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	err = srv.Start(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info(ctx, "server shutdown complete")
		return nil
	}
	return err
}

// connectBroker connects to the configured NATS broker, or starts an
// embedded one when no URL is set. The returned cleanup closes the
// connection and stops the embedded broker.
func connectBroker(url string, logger *zap.Logger) (*nats.Conn, func(), error) {
	if url == "" {
		ns, err := server.StartEmbeddedBroker()
		if err != nil {
			return nil, nil, err
		}
		nc, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return nil, nil, fmt.Errorf("connect to embedded broker: %w", err)
		}
		logger.Info("started embedded event broker", zap.String("url", ns.ClientURL()))
		return nc, func() {
			nc.Close()
			ns.Shutdown()
		}, nil
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url))
	return nc, func() { nc.Close() }, nil
}
