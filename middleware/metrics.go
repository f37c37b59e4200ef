package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// meterName is the instrumentation scope name for notifier metrics.
const meterName = "github.com/xraph/notifier"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - notifier.attempt.duration (Float64Histogram): adapter time in
//     seconds, with attributes channel and outcome
//   - notifier.attempts (Int64Counter): total attempts, with attributes
//     channel and outcome ("delivered", "transient", "permanent")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"notifier.attempt.duration",
		metric.WithDescription("Duration of delivery attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"notifier.attempts",
		metric.WithDescription("Total number of delivery attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, n *notification.Notification, next Handler) channel.Outcome {
		start := time.Now()
		o := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("channel", string(n.Channel)),
			attribute.String("outcome", o.Kind.String()),
		)
		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)

		return o
	}
}
