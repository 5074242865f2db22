package observability

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/storefront/api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger constructs a zap logger emitting Cloud Logging compatible JSON. LOG_LEVEL selects the level.
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	cfg := zap.Config{
		Level:    level,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:   zapcore.CapitalLevelEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// FromContext retrieves the request logger, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// LeveledAdapter adapts zap to printf-style leveled logging interfaces such as the one
// stripe-go accepts for its HTTP client diagnostics.
type LeveledAdapter struct {
	logger *zap.SugaredLogger
}

// NewLeveledAdapter creates a LeveledAdapter backed by the supplied logger.
func NewLeveledAdapter(logger *zap.Logger) LeveledAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LeveledAdapter{logger: logger.Sugar()}
}

func (a LeveledAdapter) Debugf(format string, args ...any) { a.logger.Debugf(format, args...) }
func (a LeveledAdapter) Infof(format string, args ...any)  { a.logger.Infof(format, args...) }
func (a LeveledAdapter) Warnf(format string, args ...any)  { a.logger.Warnf(format, args...) }
func (a LeveledAdapter) Errorf(format string, args ...any) { a.logger.Errorf(format, args...) }

// ServiceLogger adapts zap to the event logger signature used by services. The request
// logger on ctx wins over base so request_id and trace fields are kept. Events whose name
// ends in ".failed" or ".error" log at error level, ".skipped" and ".fallback" at warn.
func ServiceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		for _, key := range keys {
			zfields = append(zfields, zapField(key, fields[key]))
		}

		switch {
		case strings.HasSuffix(event, ".failed"), strings.HasSuffix(event, ".error"):
			logger.Error(event, zfields...)
		case strings.HasSuffix(event, ".skipped"), strings.HasSuffix(event, ".fallback"):
			logger.Warn(event, zfields...)
		default:
			logger.Info(event, zfields...)
		}
	}
}

func zapField(key string, value any) zap.Field {
	switch v := value.(type) {
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
