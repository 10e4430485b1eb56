// Flowd drives an LLM through a bounded design, implement, review
// workflow with tool use, streaming run events as it goes.
//
// The binary is both a one-shot CLI and a daemon:
//
//	# Run a workflow and print its events
//	flowd run "write a fizzbuzz CLI in Go"
//
//	# Same run with a live follow screen
//	flowd run --follow "write a fizzbuzz CLI in Go"
//
//	# Serve workflows over HTTP with SSE event streaming
//	flowd serve
//
//	# Expose workflows as MCP tools on stdio
//	flowd mcp
//
// Configuration is loaded from ~/.config/flowd/config.yaml (or --config)
// plus FLOWD_* environment variables. See internal/config for details.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// cfgFile is the --config flag shared by every command.
var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowd",
	Short: "Bounded agent workflow runner",
	Long: `flowd runs design, implement, review workflows over an LLM with tool
use. Every run is bounded: step, nudge and revision budgets end it in
finite time with the produced files and the final review verdict.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.config/flowd/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("flowd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

// loadConfig loads and validates configuration from --config (or the
// default locations) plus FLOWD_* environment variables.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// initTelemetry starts OpenTelemetry when the config enables it. The
// returned handle is nil-safe either way; callers defer Shutdown.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.ServiceVersion = version
	telCfg.Endpoint = cfg.Observability.Endpoint
	telCfg.Protocol = cfg.Observability.Protocol
	telCfg.Insecure = cfg.Observability.Insecure
	return telemetry.New(ctx, telCfg)
}

// buildLogger builds the structured logger for a command. Commands whose
// stdout carries payload (run output, the MCP transport) log to stderr.
func buildLogger(cfg *config.Config, tel *telemetry.Telemetry, stderrOnly bool) (*logging.Logger, error) {
	logCfg, err := logging.NewConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	if stderrOnly {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	if tel.IsEnabled() {
		logCfg.Output.OTEL = true
	}
	return logging.NewLogger(logCfg, tel.LoggerProvider())
}
