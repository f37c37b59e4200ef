package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// hooks is the type-cached list of extensions implementing H.
type hooks[H any] []entry[H]

func (h *hooks[H]) add(name string, e Extension) {
	if impl, ok := e.(H); ok {
		*h = append(*h, entry[H]{name: name, hook: impl})
	}
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	enqueued       hooks[Enqueued]
	attemptStarted hooks[AttemptStarted]
	delivered      hooks[Delivered]
	retrying       hooks[Retrying]
	failed         hooks[Failed]
	cancelled      hooks[Cancelled]
	conflict       hooks[Conflict]
	shutdown       hooks[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension to every hook cache it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.enqueued.add(name, e)
	r.attemptStarted.add(name, e)
	r.delivered.add(name, e)
	r.retrying.add(name, e)
	r.failed.add(name, e)
	r.cancelled.add(name, e)
	r.conflict.add(name, e)
	r.shutdown.add(name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

func emit[H any](r *Registry, list hooks[H], hook string, call func(H) error) {
	for _, e := range list {
		if err := call(e.hook); err != nil {
			r.logger.Warn("extension hook error",
				slog.String("hook", hook),
				slog.String("extension", e.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// EmitEnqueued notifies all extensions that implement Enqueued.
func (r *Registry) EmitEnqueued(ctx context.Context, n *notification.Notification) {
	emit(r, r.enqueued, "OnEnqueued", func(h Enqueued) error {
		return h.OnEnqueued(ctx, n)
	})
}

// EmitAttemptStarted notifies all extensions that implement AttemptStarted.
func (r *Registry) EmitAttemptStarted(ctx context.Context, n *notification.Notification) {
	emit(r, r.attemptStarted, "OnAttemptStarted", func(h AttemptStarted) error {
		return h.OnAttemptStarted(ctx, n)
	})
}

// EmitDelivered notifies all extensions that implement Delivered.
func (r *Registry) EmitDelivered(ctx context.Context, n *notification.Notification, elapsed time.Duration) {
	emit(r, r.delivered, "OnDelivered", func(h Delivered) error {
		return h.OnDelivered(ctx, n, elapsed)
	})
}

// EmitRetrying notifies all extensions that implement Retrying.
func (r *Registry) EmitRetrying(ctx context.Context, n *notification.Notification, attempt int, nextAt time.Time, reason string) {
	emit(r, r.retrying, "OnRetrying", func(h Retrying) error {
		return h.OnRetrying(ctx, n, attempt, nextAt, reason)
	})
}

// EmitFailed notifies all extensions that implement Failed.
func (r *Registry) EmitFailed(ctx context.Context, n *notification.Notification, reason string, exhausted bool) {
	emit(r, r.failed, "OnFailed", func(h Failed) error {
		return h.OnFailed(ctx, n, reason, exhausted)
	})
}

// EmitCancelled notifies all extensions that implement Cancelled.
func (r *Registry) EmitCancelled(ctx context.Context, n *notification.Notification) {
	emit(r, r.cancelled, "OnCancelled", func(h Cancelled) error {
		return h.OnCancelled(ctx, n)
	})
}

// EmitConflict notifies all extensions that implement Conflict.
func (r *Registry) EmitConflict(ctx context.Context, nid id.ID, workerID, outcome string) {
	emit(r, r.conflict, "OnConflict", func(h Conflict) error {
		return h.OnConflict(ctx, nid, workerID, outcome)
	})
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, r.shutdown, "OnShutdown", func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}
