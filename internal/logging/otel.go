package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newDualCore creates core with stdout and/or OTEL outputs.
func newDualCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout {
		encoder := newEncoder(cfg.Format)
		writer := zapcore.AddSync(os.Stdout)
		cores = append(cores, zapcore.NewCore(encoder, writer, cfg.Level))
	}

	if cfg.Output.Stderr {
		encoder := newEncoder(cfg.Format)
		writer := zapcore.AddSync(os.Stderr)
		cores = append(cores, zapcore.NewCore(encoder, writer, cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore("flowd",
			otelzap.WithLoggerProvider(otelProvider),
		)
		cores = append(cores, otelCore)
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	if len(cores) == 1 {
		return cores[0], nil
	}
	return zapcore.NewTee(cores...), nil
}
