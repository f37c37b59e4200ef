// Package middleware provides composable middleware around delivery
// attempts.
//
// A [Middleware] wraps the call into a channel adapter. Middleware are
// composed into a chain using [Chain] and run once per attempt, inside
// the worker's hard deadline. They are applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → adapter
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs channel, recipient, duration and outcome
//   - [Recover] turns adapter panics into transient outcomes
//   - [Timeout] sets a cooperative per-channel context deadline
//   - [Tracing] wraps the attempt in an OpenTelemetry span
//   - [Metrics] records per-channel duration and outcome counters
//   - [Attempt] exposes the attempt number and worker to adapters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, n *notification.Notification, next middleware.Handler) channel.Outcome {
//	        // pre-processing
//	        o := next(ctx)
//	        // post-processing
//	        return o
//	    }
//	}
package middleware
