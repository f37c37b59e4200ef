package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// Recover returns middleware that recovers from panics in the adapter.
// A panic becomes a transient outcome and is logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, n *notification.Notification, next Handler) (out channel.Outcome) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("channel adapter panicked",
					slog.String("notification_id", n.ID.String()),
					slog.String("channel", string(n.Channel)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				out = channel.Transientf("adapter panic: %v", r)
			}
		}()
		return next(ctx)
	}
}
