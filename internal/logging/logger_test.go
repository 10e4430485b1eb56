package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.NotNil(t, logger.zap)
	assert.Equal(t, cfg, logger.config)
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be")
}

func TestNewLogger_NoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = false

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestNewLogger_StderrOnly(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.Stderr = true

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig("debug", "console")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = NewConfig("loud", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	_, err = NewConfig("info", "xml")
	require.Error(t, err)
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := &Logger{
		zap:    zap.New(core),
		config: NewDefaultConfig(),
	}

	ctx := context.Background()

	tests := []struct {
		name    string
		logFunc func()
		level   zapcore.Level
		message string
	}{
		{
			name:    "debug",
			logFunc: func() { logger.Debug(ctx, "debug message", zap.String("key", "val")) },
			level:   zapcore.DebugLevel,
			message: "debug message",
		},
		{
			name:    "info",
			logFunc: func() { logger.Info(ctx, "info message", zap.String("key", "val")) },
			level:   zapcore.InfoLevel,
			message: "info message",
		},
		{
			name:    "warn",
			logFunc: func() { logger.Warn(ctx, "warn message", zap.String("key", "val")) },
			level:   zapcore.WarnLevel,
			message: "warn message",
		},
		{
			name:    "error",
			logFunc: func() { logger.Error(ctx, "error message", zap.String("key", "val")) },
			level:   zapcore.ErrorLevel,
			message: "error message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := observed.Len()
			tt.logFunc()

			entries := observed.All()
			require.Len(t, entries, before+1)

			last := entries[len(entries)-1]
			assert.Equal(t, tt.level, last.Level)
			assert.Equal(t, tt.message, last.Message)
		})
	}
}

func TestLogger_ChildLoggers(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := &Logger{
		zap:    zap.New(core),
		config: NewDefaultConfig(),
	}

	child := logger.With(zap.String("component", "engine")).Named("engine")
	child.Info(context.Background(), "child message")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0].LoggerName)
	require.Len(t, entries[0].Context, 1)
	assert.Equal(t, "component", entries[0].Context[0].Key)

	// Parent is unaffected by the child's fields.
	logger.Info(context.Background(), "parent message")
	entries = observed.All()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[1].Context)
	assert.Empty(t, entries[1].LoggerName)
}

func TestLogger_Enabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.WarnLevel
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	assert.True(t, logger.Enabled(zapcore.ErrorLevel))
	assert.True(t, logger.Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
}

func TestLogger_Underlying(t *testing.T) {
	tl := NewTestLogger()
	assert.NotNil(t, tl.Underlying())
}

func TestLogger_Sync(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, logger.Sync())
}
