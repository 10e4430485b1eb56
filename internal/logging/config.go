package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level     `koanf:"level"`
	Format string            `koanf:"format"`
	Output OutputConfig      `koanf:"output"`
	Fields map[string]string `koanf:"fields"`
}

// OutputConfig controls where logs are written. Stderr exists for modes
// that own stdout, like the MCP stdio transport.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{
			Stdout: true,
			OTEL:   false,
		},
		Fields: map[string]string{
			"service": "flowd",
		},
	}
}

// NewConfig builds a Config from the level and format strings used by the
// flowd config file. OTEL output is switched on by the caller once a log
// provider exists.
func NewConfig(level, format string) (*Config, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := NewDefaultConfig()
	cfg.Level = parsed
	cfg.Format = format
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout, stderr or otel)")
	}

	if c.Fields != nil {
		for k, v := range c.Fields {
			if k == "" {
				return fmt.Errorf("field key cannot be empty")
			}
			if v == "" {
				return fmt.Errorf("field %q has empty value", k)
			}
		}
	}

	return nil
}
