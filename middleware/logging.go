package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// Logging returns middleware that logs the start and outcome of each
// delivery attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, n *notification.Notification, next Handler) channel.Outcome {
		logger.Debug("delivery attempt started",
			slog.String("notification_id", n.ID.String()),
			slog.String("channel", string(n.Channel)),
			slog.Int("attempt", n.RetryCount+1),
		)

		start := time.Now()
		o := next(ctx)
		elapsed := time.Since(start)

		switch o.Kind {
		case channel.KindDelivered:
			logger.Info("delivery attempt succeeded",
				slog.String("notification_id", n.ID.String()),
				slog.String("channel", string(n.Channel)),
				slog.Duration("elapsed", elapsed),
			)
		default:
			logger.Warn("delivery attempt failed",
				slog.String("notification_id", n.ID.String()),
				slog.String("channel", string(n.Channel)),
				slog.String("outcome", o.Kind.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", o.Reason),
			)
		}

		return o
	}
}
