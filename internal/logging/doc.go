// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Dual output (stdout + OpenTelemetry via the otelzap bridge)
//   - Automatic context field injection (trace_id, run.id, phase)
//   - Named child loggers per component
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx := logging.WithRunID(ctx, "run_123")
//	ctx = logging.WithPhase(ctx, "implement")
//	logger.Info(ctx, "phase advanced", zap.Int("steps", steps))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2025-11-24T10:15:30Z",
//	  "level": "info",
//	  "msg": "phase advanced",
//	  "trace_id": "abc123",
//	  "run.id": "run_123",
//	  "phase": "implement",
//	  "steps": 12
//	}
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
