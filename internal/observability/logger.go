package observability

import (
	"fmt"
	"os"

	"github.com/safar/electronics-store/internal/config"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const instrumentationScope = "github.com/safar/electronics-store"

// NewLogger builds the service logger: JSON on stdout at level, and, when lp
// is non-nil, every entry is also emitted as an OpenTelemetry log record.
func NewLogger(level string, lp log.LoggerProvider) (*zap.Logger, error) {
	return newLogger(level, lp, zapcore.Lock(os.Stdout))
}

func newLogger(level string, lp log.LoggerProvider, out zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), out, lvl)

	if lp != nil {
		otelCore, err := zapcore.NewIncreaseLevelCore(
			otelzap.NewCore(instrumentationScope, otelzap.WithLoggerProvider(lp)), lvl)
		if err != nil {
			return nil, fmt.Errorf("otel log core: %w", err)
		}
		core = zapcore.NewTee(core, otelCore)
	}

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	), nil
}
