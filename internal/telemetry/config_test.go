package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled) // opt-in for users without an OTEL collector
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "flowd", cfg.ServiceName)
	assert.Equal(t, "0.1.0", cfg.ServiceVersion)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout)
}

func TestConfig_Validate(t *testing.T) {
	enabled := func(mutate func(*Config)) *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		mutate(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid default config",
			config: NewDefaultConfig(),
		},
		{
			name:   "disabled config skips validation",
			config: &Config{Enabled: false},
		},
		{
			name:   "enabled with local grpc endpoint",
			config: enabled(func(c *Config) {}),
		},
		{
			name:    "missing endpoint",
			config:  enabled(func(c *Config) { c.Endpoint = "" }),
			wantErr: true,
			errMsg:  "endpoint is required",
		},
		{
			name:    "unknown protocol",
			config:  enabled(func(c *Config) { c.Protocol = "carrier-pigeon" }),
			wantErr: true,
			errMsg:  "protocol must be",
		},
		{
			name:    "missing service name",
			config:  enabled(func(c *Config) { c.ServiceName = "" }),
			wantErr: true,
			errMsg:  "service_name is required",
		},
		{
			name:    "missing service version",
			config:  enabled(func(c *Config) { c.ServiceVersion = "" }),
			wantErr: true,
			errMsg:  "service_version is required",
		},
		{
			name:    "insecure remote endpoint rejected",
			config:  enabled(func(c *Config) { c.Endpoint = "collector.example.com:4317" }),
			wantErr: true,
			errMsg:  "insecure connections to remote endpoints",
		},
		{
			name: "secure remote endpoint accepted",
			config: enabled(func(c *Config) {
				c.Endpoint = "collector.example.com:4317"
				c.Insecure = false
			}),
		},
		{
			name:   "insecure loopback accepted",
			config: enabled(func(c *Config) { c.Endpoint = "127.0.0.1:4317" }),
		},
		{
			name:   "insecure bracketed ipv6 loopback accepted",
			config: enabled(func(c *Config) { c.Endpoint = "[::1]:4317" }),
		},
		{
			name:    "sampling rate above one",
			config:  enabled(func(c *Config) { c.Sampling.Rate = 1.5 }),
			wantErr: true,
			errMsg:  "sampling.rate",
		},
		{
			name:    "sampling rate below zero",
			config:  enabled(func(c *Config) { c.Sampling.Rate = -0.1 }),
			wantErr: true,
			errMsg:  "sampling.rate",
		},
		{
			name:    "zero metrics export interval",
			config:  enabled(func(c *Config) { c.Metrics.ExportInterval = 0 }),
			wantErr: true,
			errMsg:  "export_interval",
		},
		{
			name:    "zero shutdown timeout",
			config:  enabled(func(c *Config) { c.Shutdown.Timeout = 0 }),
			wantErr: true,
			errMsg:  "shutdown.timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" && err != nil {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
