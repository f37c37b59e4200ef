package middleware

import (
	"context"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// AttemptInfo identifies the delivery attempt in progress.
type AttemptInfo struct {
	// Number is 1 for the first attempt.
	Number   int
	WorkerID string
}

type attemptKey struct{}

// Attempt returns middleware that stores the attempt number and the
// owning worker in the context, so adapters can stamp them on outbound
// requests.
func Attempt() Middleware {
	return func(ctx context.Context, n *notification.Notification, next Handler) channel.Outcome {
		ctx = context.WithValue(ctx, attemptKey{}, AttemptInfo{
			Number:   n.RetryCount + 1,
			WorkerID: n.WorkerID,
		})
		return next(ctx)
	}
}

// AttemptFrom returns the attempt stored by Attempt, if any.
func AttemptFrom(ctx context.Context) (AttemptInfo, bool) {
	info, ok := ctx.Value(attemptKey{}).(AttemptInfo)
	return info, ok
}
