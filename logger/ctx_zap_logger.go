package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CtxZapLogger is a context-aware zap wrapper.
// The module is bound at creation time; callers only pass ctx.
//
//	log := logger.GetLogger("yogan")
//	log.InfoCtx(ctx, "pipeline compiled", zap.String("event", name))
type CtxZapLogger struct {
	base   *zap.Logger
	module string
	config *ManagerConfig
}

// FromZap wraps an existing zap logger, mainly for tests and embedding
// (zap.NewNop(), zaptest/observer cores). No trace or stack enrichment is applied.
func FromZap(base *zap.Logger, module string) *CtxZapLogger {
	return &CtxZapLogger{
		base:   base.With(zap.String("module", module)),
		module: module,
	}
}

// DebugCtx logs at debug level
func (l *CtxZapLogger) DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Debug(msg, l.enrichFields(ctx, fields)...)
}

// InfoCtx logs at info level
func (l *CtxZapLogger) InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Info(msg, l.enrichFields(ctx, fields)...)
}

// WarnCtx logs at warn level
func (l *CtxZapLogger) WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Warn(msg, l.enrichFields(ctx, fields)...)
}

// ErrorCtx logs at error level, with a depth-limited stack when enabled
func (l *CtxZapLogger) ErrorCtx(ctx context.Context, msg string, fields ...zap.Field) {
	enriched := l.enrichFields(ctx, fields)

	if l.config != nil && shouldCaptureStacktrace("error", *l.config) {
		// skip=3: runtime.Callers -> CaptureStacktrace -> ErrorCtx
		if stack := CaptureStacktrace(3, l.config.StacktraceDepth); stack != "" {
			enriched = append(enriched, zap.String("stack", stack))
		}
	}

	l.base.Error(msg, enriched...)
}

// Debug logs without a context
func (l *CtxZapLogger) Debug(msg string, fields ...zap.Field) {
	l.DebugCtx(context.Background(), msg, fields...)
}

// Info logs without a context
func (l *CtxZapLogger) Info(msg string, fields ...zap.Field) {
	l.InfoCtx(context.Background(), msg, fields...)
}

// Warn logs without a context
func (l *CtxZapLogger) Warn(msg string, fields ...zap.Field) {
	l.WarnCtx(context.Background(), msg, fields...)
}

// Error logs without a context
func (l *CtxZapLogger) Error(msg string, fields ...zap.Field) {
	l.ErrorCtx(context.Background(), msg, fields...)
}

// With returns a child logger carrying preset fields
func (l *CtxZapLogger) With(fields ...zap.Field) *CtxZapLogger {
	return &CtxZapLogger{
		base:   l.base.With(fields...),
		module: l.module,
		config: l.config,
	}
}

// Module returns the bound module name
func (l *CtxZapLogger) Module() string {
	return l.module
}

// GetZapLogger exposes the underlying *zap.Logger for third-party integration
func (l *CtxZapLogger) GetZapLogger() *zap.Logger {
	return l.base
}

// enrichFields prepends app_name and the trace id
func (l *CtxZapLogger) enrichFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if l.config == nil {
		return fields
	}

	enriched := make([]zap.Field, 0, len(fields)+2)
	enriched = append(enriched, zap.String("app_name", l.config.AppName))

	if l.config.EnableTraceID {
		if traceID := extractTraceIDFromContext(ctx, l.config); traceID != "" {
			enriched = append(enriched, zap.String(l.config.TraceIDFieldName, traceID))
		}
	}

	return append(enriched, fields...)
}

// extractTraceIDFromContext prefers the otel span, then the configured ctx key
func extractTraceIDFromContext(ctx context.Context, cfg *ManagerConfig) string {
	if ctx == nil {
		return ""
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}

	key := "trace_id"
	if cfg != nil && cfg.TraceIDKey != "" {
		key = cfg.TraceIDKey
	}
	if traceID, ok := ctx.Value(key).(string); ok {
		return traceID
	}
	return ""
}
