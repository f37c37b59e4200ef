// Package worker provides the dispatch execution engine: an Executor that
// runs one delivery attempt through middleware under a hard deadline, and
// a Pool of worker goroutines that claim notifications from the scheduler,
// execute them, and hand the outcome to the reconciler.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/middleware"
	"github.com/xraph/notifier/notification"
)

// Executor runs a single delivery attempt.
type Executor struct {
	adapters   *channel.Registry
	timeoutFor func(notification.Channel) time.Duration
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor. timeoutFor returns the hard deadline
// for a channel; zero means no deadline beyond the caller's context.
func NewExecutor(
	adapters *channel.Registry,
	timeoutFor func(notification.Channel) time.Duration,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if timeoutFor == nil {
		timeoutFor = func(notification.Channel) time.Duration { return 0 }
	}
	return &Executor{
		adapters:   adapters,
		timeoutFor: timeoutFor,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute sends n through the middleware chain and its channel adapter.
//
// The adapter runs in its own goroutine. If it has not returned when the
// deadline passes or ctx is cancelled, Execute abandons it and reports a
// transient outcome; a late result is discarded. Panics that escape the
// middleware are also reported as transient.
func (e *Executor) Execute(ctx context.Context, n *notification.Notification) (channel.Outcome, time.Duration) {
	limit := e.timeoutFor(n.Channel)

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The adapter may outlive this call, so it gets its own copy.
	sent := n.Clone()
	done := make(chan channel.Outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- channel.Transientf("adapter panic: %v", r)
			}
		}()
		done <- e.mw(attemptCtx, sent, func(ctx context.Context) channel.Outcome {
			return e.adapters.Send(ctx, sent)
		})
	}()

	var deadline <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case o := <-done:
		return o, time.Since(start)
	case <-deadline:
		e.logger.Warn("delivery attempt abandoned after deadline",
			slog.String("notification_id", n.ID.String()),
			slog.String("channel", string(n.Channel)),
			slog.Duration("timeout", limit),
		)
		return channel.Transientf("attempt timed out after %s", limit), time.Since(start)
	case <-ctx.Done():
		return channel.Transientf("attempt cancelled: %v", ctx.Err()), time.Since(start)
	}
}
