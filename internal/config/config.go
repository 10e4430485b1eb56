// Package config provides configuration loading for flowd.
//
// Configuration is read from a YAML file, overridden by FLOWD_* environment
// variables, and validated. Missing values fall back to defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/model"
)

// Config holds the complete flowd configuration.
type Config struct {
	Engine        EngineConfig        `koanf:"engine"`
	Model         model.Config        `koanf:"model"`
	Server        ServerConfig        `koanf:"server"`
	Events        EventsConfig        `koanf:"events"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Checkpoint    CheckpointConfig    `koanf:"checkpoint"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// EngineConfig bounds a single workflow run. Zero values take the defaults
// below; the run and mcp commands force MaxRetries to 0 for the scripted
// provider.
type EngineConfig struct {
	MaxRetries    int `koanf:"max_retries"`
	MaxIterations int `koanf:"max_iterations"`
	MaxSteps      int `koanf:"max_steps"`
}

// ServerConfig holds HTTP server configuration for serve mode.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// EventsConfig selects where run events go. An empty NATSURL makes serve
// mode start an embedded broker; Dir is where run commands drop NDJSON
// event logs when --events is not given.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
	Dir     string `koanf:"dir"`
}

// SecretsConfig controls the write guard on workspace files.
type SecretsConfig struct {
	Disabled      bool   `koanf:"disabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// CheckpointConfig controls per-phase git checkpointing of the workspace.
type CheckpointConfig struct {
	Disabled bool `koanf:"disabled"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"` // grpc or http
	Insecure        bool   `koanf:"insecure"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Engine defaults
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = 2
	}
	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 3
	}
	if cfg.Engine.MaxSteps == 0 {
		cfg.Engine.MaxSteps = 128
	}

	// Model defaults beyond what the client itself fills in
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = model.ProviderAnthropic
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8484
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// Observability defaults
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "flowd"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Engine limits are negative
//   - Model provider is unknown
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Telemetry is enabled with an empty service name or unknown protocol
//   - Logging level or format is unknown
func (c *Config) Validate() error {
	if c.Engine.MaxRetries < 0 || c.Engine.MaxIterations < 0 || c.Engine.MaxSteps < 0 {
		return errors.New("engine limits must not be negative")
	}

	switch c.Model.Provider {
	case model.ProviderAnthropic, model.ProviderScripted:
	default:
		return fmt.Errorf("unknown model provider: %q", c.Model.Provider)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if c.Observability.Protocol != "grpc" && c.Observability.Protocol != "http" {
			return fmt.Errorf("unknown telemetry protocol: %q (grpc or http)", c.Observability.Protocol)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}

	return nil
}
