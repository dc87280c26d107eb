package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
	jobIDKey
	userIDKey
)

// correlationFields are copied from the context onto every ContextLogger entry
var correlationFields = []struct {
	key  contextKey
	name string
}{
	{requestIDKey, "request_id"},
	{jobIDKey, "job_id"},
	{userIDKey, "user_id"},
}

// WithContext attaches logger to ctx
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger attached to ctx, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// WithRequestID records the HTTP request ID on ctx and on the returned logger
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return withCorrelation(ctx, logger, requestIDKey, requestID)
}

// WithJobID records the import job being worked on
func WithJobID(ctx context.Context, logger *zap.Logger, jobID string) (context.Context, *zap.Logger) {
	return withCorrelation(ctx, logger, jobIDKey, jobID)
}

// WithUserID records the caller
func WithUserID(ctx context.Context, logger *zap.Logger, userID string) (context.Context, *zap.Logger) {
	return withCorrelation(ctx, logger, userIDKey, userID)
}

func withCorrelation(ctx context.Context, logger *zap.Logger, key contextKey, value string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, key, value)
	enriched := logger.With(zap.String(fieldName(key), value))
	return WithContext(ctx, enriched), enriched
}

func fieldName(key contextKey) string {
	for _, c := range correlationFields {
		if c.key == key {
			return c.name
		}
	}
	return ""
}

// ContextLogger writes entries tagged with the trace, span and correlation
// IDs its context carries at the time of the call.
type ContextLogger struct {
	ctx  context.Context
	base *zap.Logger
}

// WithLogger binds logger to ctx. A nil logger discards everything.
func WithLogger(ctx context.Context, logger *zap.Logger) *ContextLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextLogger{ctx: ctx, base: logger}
}

func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) {
	cl.write(zapcore.DebugLevel, msg, fields)
}

func (cl *ContextLogger) Info(msg string, fields ...zap.Field) {
	cl.write(zapcore.InfoLevel, msg, fields)
}

func (cl *ContextLogger) Warn(msg string, fields ...zap.Field) {
	cl.write(zapcore.WarnLevel, msg, fields)
}

func (cl *ContextLogger) Error(msg string, fields ...zap.Field) {
	cl.write(zapcore.ErrorLevel, msg, fields)
}

// write only collects context fields for entries the core will keep
func (cl *ContextLogger) write(level zapcore.Level, msg string, fields []zap.Field) {
	ce := cl.base.Check(level, msg)
	if ce == nil {
		return
	}
	ce.Write(append(contextFields(cl.ctx), fields...)...)
}

func contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	for _, c := range correlationFields {
		if v, ok := ctx.Value(c.key).(string); ok && v != "" {
			fields = append(fields, zap.String(c.name, v))
		}
	}
	return fields
}
