package ext

import (
	"context"
	"time"

	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// Enqueued is called after a notification is created and submitted.
type Enqueued interface {
	OnEnqueued(ctx context.Context, n *notification.Notification) error
}

// AttemptStarted is called when a worker claims a notification.
type AttemptStarted interface {
	OnAttemptStarted(ctx context.Context, n *notification.Notification) error
}

// Delivered is called after a notification transitions to sent.
type Delivered interface {
	OnDelivered(ctx context.Context, n *notification.Notification, elapsed time.Duration) error
}

// Retrying is called when a transient failure is scheduled for retry.
type Retrying interface {
	OnRetrying(ctx context.Context, n *notification.Notification, attempt int, nextAt time.Time, reason string) error
}

// Failed is called when a notification transitions to failed.
type Failed interface {
	OnFailed(ctx context.Context, n *notification.Notification, reason string, exhausted bool) error
}

// Cancelled is called when a notification transitions to cancelled.
type Cancelled interface {
	OnCancelled(ctx context.Context, n *notification.Notification) error
}

// Conflict is called when an attempt outcome is discarded because the
// record no longer belongs to the reporting worker.
type Conflict interface {
	OnConflict(ctx context.Context, nid id.ID, workerID, outcome string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
