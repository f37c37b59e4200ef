package middleware

import (
	"context"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// Handler is the terminal function that performs the delivery attempt.
type Handler func(ctx context.Context) channel.Outcome

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the notification being delivered, and
// the next handler to call. Middleware MUST call next to continue the
// chain unless it short-circuits with an outcome of its own.
type Middleware func(ctx context.Context, n *notification.Notification, next Handler) channel.Outcome

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, attempt) executes as:
//
//	logging → recover → attempt → adapter
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, n *notification.Notification, next Handler) channel.Outcome {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) channel.Outcome {
				return mw(ctx, n, prev)
			}
		}
		return h(ctx)
	}
}
