package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/notifier/ext"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// Compile-time interface checks.
var (
	_ ext.Extension = (*MetricsExtension)(nil)
	_ ext.Enqueued  = (*MetricsExtension)(nil)
	_ ext.Delivered = (*MetricsExtension)(nil)
	_ ext.Retrying  = (*MetricsExtension)(nil)
	_ ext.Failed    = (*MetricsExtension)(nil)
	_ ext.Cancelled = (*MetricsExtension)(nil)
	_ ext.Conflict  = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/notifier/observability"

// MetricsExtension records lifecycle metrics through an OTel meter.
// Register it as an extension to track enqueue rates, delivery counts and
// latency, retries, failures, cancellations and reconcile conflicts.
type MetricsExtension struct {
	Enqueued        metric.Int64Counter
	Delivered       metric.Int64Counter
	Retried         metric.Int64Counter
	Failed          metric.Int64Counter
	Cancelled       metric.Int64Counter
	Conflicts       metric.Int64Counter
	DeliveryLatency metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Instrument creation errors fall back to noop
// instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{notification}"))
		return c
	}
	latency, _ := meter.Float64Histogram("notifier.notification.delivery_latency",
		metric.WithDescription("Time from the first due moment to delivery in seconds"),
		metric.WithUnit("s"),
	)

	return &MetricsExtension{
		Enqueued:        counter("notifier.notification.enqueued", "Notifications accepted for dispatch"),
		Delivered:       counter("notifier.notification.delivered", "Notifications delivered"),
		Retried:         counter("notifier.notification.retried", "Transient failures scheduled for retry"),
		Failed:          counter("notifier.notification.failed", "Notifications that reached failed"),
		Cancelled:       counter("notifier.notification.cancelled", "Notifications cancelled after an attempt"),
		Conflicts:       counter("notifier.reconcile.conflicts", "Attempt outcomes dropped on a version conflict"),
		DeliveryLatency: latency,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func channelAttr(n *notification.Notification) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("channel", string(n.Channel)))
}

// OnEnqueued implements ext.Enqueued.
func (m *MetricsExtension) OnEnqueued(ctx context.Context, n *notification.Notification) error {
	m.Enqueued.Add(ctx, 1, channelAttr(n))
	return nil
}

// OnDelivered implements ext.Delivered.
func (m *MetricsExtension) OnDelivered(ctx context.Context, n *notification.Notification, _ time.Duration) error {
	m.Delivered.Add(ctx, 1, channelAttr(n))
	if n.SentAt != nil {
		m.DeliveryLatency.Record(ctx, n.SentAt.Sub(n.DueAt()).Seconds(), channelAttr(n))
	}
	return nil
}

// OnRetrying implements ext.Retrying.
func (m *MetricsExtension) OnRetrying(ctx context.Context, n *notification.Notification, _ int, _ time.Time, _ string) error {
	m.Retried.Add(ctx, 1, channelAttr(n))
	return nil
}

// OnFailed implements ext.Failed.
func (m *MetricsExtension) OnFailed(ctx context.Context, n *notification.Notification, _ string, exhausted bool) error {
	m.Failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", string(n.Channel)),
		attribute.Bool("exhausted", exhausted),
	))
	return nil
}

// OnCancelled implements ext.Cancelled.
func (m *MetricsExtension) OnCancelled(ctx context.Context, n *notification.Notification) error {
	m.Cancelled.Add(ctx, 1, channelAttr(n))
	return nil
}

// OnConflict implements ext.Conflict.
func (m *MetricsExtension) OnConflict(ctx context.Context, _ id.ID, _, _ string) error {
	m.Conflicts.Add(ctx, 1)
	return nil
}
