package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// Timeout returns middleware that gives each attempt a context deadline
// from timeoutFor. Adapters that honour ctx stop on their own; the worker
// still enforces a hard deadline for those that do not.
func Timeout(logger *slog.Logger, timeoutFor func(ch notification.Channel) time.Duration) Middleware {
	return func(ctx context.Context, n *notification.Notification, next Handler) channel.Outcome {
		if d := timeoutFor(n.Channel); d > 0 {
			logger.Debug("attempt timeout set",
				slog.String("notification_id", n.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
