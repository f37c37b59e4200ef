// Package reconcile persists the result of a delivery attempt.
//
// The Reconciler is the only writer that moves a notification out of
// in_flight. Every write is a compare-and-swap on the record version and
// is accepted only while the record is still owned by the attempt that
// produced the outcome. A mismatch is a concurrency conflict: it is logged
// and reported to extensions, and the stale outcome is dropped.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/ext"
	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/retry"
	"github.com/xraph/notifier/scheduler"
)

// Publisher takes notifications that need another attempt.
type Publisher interface {
	Submit(ctx context.Context, n *notification.Notification) error
}

// Result describes what Apply did.
type Result struct {
	// Notification is the record after the write. Nil on conflict.
	Notification *notification.Notification
	Decision     retry.Decision
	// Conflict is true when the outcome was dropped because the attempt
	// no longer owned the record.
	Conflict bool
}

// Reconciler applies attempt outcomes to the record store.
type Reconciler struct {
	store       notification.Store
	policy      *retry.Policy
	publisher   Publisher
	extensions  *ext.Registry
	logger      *slog.Logger
	clock       notifier.Clock
	maxAttempts int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used for sent_at and retry times.
func WithClock(c notifier.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithPublisher sets where retries are republished.
func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

// WithMaxAttempts bounds how many times one outcome is recomputed after
// losing a version race to a write that kept the same owner.
func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) { r.maxAttempts = n }
}

// New creates a Reconciler.
func New(store notification.Store, policy *retry.Policy, extensions *ext.Registry, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		policy:      policy,
		extensions:  extensions,
		logger:      logger,
		clock:       notifier.SystemClock(),
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	return r
}

// Apply records outcome o for the attempt described by c. Conflicts are
// reported through Result.Conflict, not as errors; the returned error is
// reserved for store failures.
func (r *Reconciler) Apply(ctx context.Context, c *scheduler.Claim, o channel.Outcome, elapsed time.Duration) (Result, error) {
	for attempt := 1; ; attempt++ {
		n, err := r.store.Get(ctx, c.ID())
		if errors.Is(err, notifier.ErrNotFound) {
			return r.conflict(ctx, c, o, "record deleted"), nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("reconcile: load %s: %w", c.ID(), err)
		}

		if n.Status != notification.StatusInFlight || n.AttemptToken != c.Token {
			return r.conflict(ctx, c, o, "attempt no longer owns record"), nil
		}

		now := r.clock.Now()
		d := r.policy.Decide(o, n.RetryCount, n.MaxRetries)
		patch := transition(n, d, now)

		updated, err := r.store.CompareAndSwap(ctx, n.ID, n.Version, patch)
		switch {
		case err == nil:
			r.emit(ctx, updated, d, elapsed)
			return Result{Notification: updated, Decision: d}, nil
		case errors.Is(err, notifier.ErrConflict) && attempt < r.maxAttempts:
			// A cancel request or similar bookkeeping write landed in
			// between. Re-read and recompute against the new version.
			continue
		case errors.Is(err, notifier.ErrConflict), errors.Is(err, notifier.ErrNotFound):
			return r.conflict(ctx, c, o, "version changed"), nil
		default:
			return Result{}, fmt.Errorf("reconcile: write %s: %w", n.ID, err)
		}
	}
}

// transition builds the patch that moves n out of in_flight.
func transition(n *notification.Notification, d retry.Decision, now time.Time) notification.Patch {
	p := notification.Patch{
		AttemptToken: notification.Some(""),
		WorkerID:     notification.Some(""),
		ClaimedAt:    notification.Some[*time.Time](nil),
		UpdatedAt:    now,
	}

	switch d.Action {
	case retry.Succeed:
		p.Status = notification.Some(notification.StatusSent)
		p.SentAt = notification.Some(&now)
	case retry.Retry:
		p.ErrorMessage = notification.Some(d.Reason)
		if n.CancelRequested {
			p.Status = notification.Some(notification.StatusCancelled)
			break
		}
		next := now.Add(d.Delay)
		p.Status = notification.Some(notification.StatusScheduled)
		p.RetryCount = notification.Some(d.RetryCount)
		p.ScheduledAt = notification.Some(&next)
	case retry.Fail:
		p.Status = notification.Some(notification.StatusFailed)
		p.ErrorMessage = notification.Some(d.Reason)
	}
	return p
}

func (r *Reconciler) emit(ctx context.Context, n *notification.Notification, d retry.Decision, elapsed time.Duration) {
	attrs := []any{
		slog.String("notification_id", n.ID.String()),
		slog.String("channel", string(n.Channel)),
		slog.String("status", string(n.Status)),
	}

	switch n.Status {
	case notification.StatusSent:
		r.logger.Info("notification sent", append(attrs, slog.Duration("elapsed", elapsed))...)
		r.extensions.EmitDelivered(ctx, n, elapsed)

	case notification.StatusScheduled:
		r.logger.Info("notification scheduled for retry", append(attrs,
			slog.Int("attempt", d.RetryCount),
			slog.Int("max_retries", n.MaxRetries),
			slog.Duration("delay", d.Delay),
			slog.String("error", d.Reason),
		)...)
		r.extensions.EmitRetrying(ctx, n, d.RetryCount, *n.ScheduledAt, d.Reason)
		if r.publisher != nil {
			if err := r.publisher.Submit(ctx, n); err != nil {
				// The durable sweep picks the record up once it is due.
				r.logger.Warn("failed to republish retry", append(attrs, slog.String("error", err.Error()))...)
			}
		}

	case notification.StatusCancelled:
		r.logger.Info("notification cancelled after attempt", attrs...)
		r.extensions.EmitCancelled(ctx, n)

	case notification.StatusFailed:
		r.logger.Warn("notification failed", append(attrs,
			slog.Int("retry_count", n.RetryCount),
			slog.Bool("exhausted", d.Exhausted),
			slog.String("error", d.Reason),
		)...)
		r.extensions.EmitFailed(ctx, n, d.Reason, d.Exhausted)
	}
}

func (r *Reconciler) conflict(ctx context.Context, c *scheduler.Claim, o channel.Outcome, why string) Result {
	r.logger.Warn("reconcile conflict, outcome dropped",
		slog.String("notification_id", c.ID().String()),
		slog.String("worker_id", c.WorkerID),
		slog.String("outcome", o.String()),
		slog.String("reason", why),
	)
	r.extensions.EmitConflict(ctx, c.ID(), c.WorkerID, o.String())
	return Result{Conflict: true}
}
