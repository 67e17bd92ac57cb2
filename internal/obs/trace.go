package obs

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WithTrace returns log annotated with the span in ctx, if any, and the extra fields.
func WithTrace(ctx context.Context, log *zap.Logger, fields ...zap.Field) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}
