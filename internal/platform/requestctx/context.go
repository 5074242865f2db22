// Package requestctx stores the request logger and trace metadata on a context.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

// key is parameterised by the stored type so each value gets its own slot.
type key[T any] struct{}

var nop = zap.NewNop()

// TraceInfo is the trace span a request runs under, as extracted by the tracing
// middleware. ProjectID is set when the trace lives in Cloud Trace.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func put[T any](ctx context.Context, v T) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key[T]{}, v)
}

func get[T any](ctx context.Context) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key[T]{}).(T)
	return v, ok
}

// WithLogger attaches logger to ctx. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return put(ctx, logger)
}

// Logger returns the request logger, never nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := get[*zap.Logger](ctx); ok && logger != nil {
		return logger
	}
	return nop
}

func NoopLogger() *zap.Logger { return nop }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return put(ctx, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return get[TraceInfo](ctx)
}

// TraceID returns the trace id or "" outside a traced request.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
