package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// tracerName is the instrumentation scope name for notifier tracing.
const tracerName = "github.com/xraph/notifier"

// Tracing returns middleware that wraps each delivery attempt in an
// OpenTelemetry span. Without a global TracerProvider the noop tracer is
// used and this middleware is a pass-through.
//
// Span attributes: notifier.notification.id, notifier.channel,
// notifier.priority, notifier.retry_count. Non-delivered outcomes set the
// span status to codes.Error with the outcome reason.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, n *notification.Notification, next Handler) channel.Outcome {
		ctx, span := tracer.Start(ctx, "notifier.deliver",
			trace.WithAttributes(
				attribute.String("notifier.notification.id", n.ID.String()),
				attribute.String("notifier.channel", string(n.Channel)),
				attribute.String("notifier.priority", string(n.Priority)),
				attribute.Int("notifier.retry_count", n.RetryCount),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		o := next(ctx)
		span.SetAttributes(attribute.String("notifier.outcome", o.Kind.String()))
		if o.Kind == channel.KindDelivered {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, o.Reason)
		}

		return o
	}
}
