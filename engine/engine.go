package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/backoff"
	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/ext"
	"github.com/xraph/notifier/id"
	mw "github.com/xraph/notifier/middleware"
	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/observability"
	"github.com/xraph/notifier/queue"
	"github.com/xraph/notifier/reconcile"
	"github.com/xraph/notifier/retry"
	"github.com/xraph/notifier/scheduler"
	"github.com/xraph/notifier/worker"
)

// maxWriteAttempts bounds how often a service write re-reads the record
// after losing a version race.
const maxWriteAttempts = 5

// Engine wraps a Notifier with the scheduler, worker pool and reconciler,
// and exposes the notification service operations.
type Engine struct {
	n          *notifier.Notifier
	store      notification.Store
	extensions *ext.Registry
	adapters   *channel.Registry
	bo         backoff.Strategy
	mws        []mw.Middleware
	logger     *slog.Logger
	clock      notifier.Clock

	scheduler  *scheduler.Scheduler
	reconciler *reconcile.Reconciler
	pool       *worker.Pool

	// Queue subsystem.
	limits       []queue.Limit
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithAdapter registers a channel adapter. A later adapter for the same
// channel replaces an earlier one.
func WithAdapter(a channel.Adapter) Option {
	return func(eng *Engine) {
		eng.adapters.Register(a)
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware after the default attempt chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. If not set,
// backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithChannelLimits registers per-channel concurrency and rate limits.
// Channels not listed are unlimited.
func WithChannelLimits(limits ...queue.Limit) Option {
	return func(eng *Engine) {
		eng.limits = append(eng.limits, limits...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the attempt
// tracing middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for both the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Notifier. The Notifier's store
// must implement notification.Store. The scheduler and worker pool are
// registered as runners, so n.Start and eng.Start are equivalent.
func Build(n *notifier.Notifier, opts ...Option) (*Engine, error) {
	logger := n.Logger()
	if n.Store() == nil {
		return nil, notifier.ErrNoStore
	}
	store, ok := n.Store().(notification.Store)
	if !ok {
		return nil, errors.New("notifier: store does not implement notification.Store")
	}

	cfg := n.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := scheduler.ParseSchedule(cfg.SweepSchedule); err != nil {
		return nil, notifier.NewValidationError("sweep_schedule", err.Error())
	}

	eng := &Engine{
		n:          n,
		store:      store,
		extensions: ext.NewRegistry(logger),
		adapters:   channel.NewRegistry(),
		logger:     logger,
		clock:      n.Clock(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/notifier"))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/notifier"))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/xraph/notifier/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	schedOpts := []scheduler.Option{
		scheduler.WithClock(eng.clock),
		scheduler.WithSweepSchedule(cfg.SweepSchedule),
		scheduler.WithBatchSize(cfg.SweepBatchSize),
		scheduler.WithTickInterval(cfg.TickInterval),
	}
	if len(eng.limits) > 0 {
		eng.queueManager = queue.NewManager(eng.limits...)
		schedOpts = append(schedOpts, scheduler.WithLimiter(eng.queueManager))
	}
	eng.scheduler = scheduler.New(store, eng.extensions, logger, schedOpts...)

	eng.reconciler = reconcile.New(store, retry.NewPolicy(eng.bo), eng.extensions, logger,
		reconcile.WithClock(eng.clock),
		reconcile.WithPublisher(eng.scheduler),
		reconcile.WithMaxAttempts(cfg.MaxReconcileAttempts),
	)

	timeoutFor := func(ch notification.Channel) time.Duration {
		return cfg.TimeoutFor(string(ch))
	}

	// Default chain: recover → tracing → metrics → logging → attempt → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Attempt(),
		mw.Timeout(logger, timeoutFor),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.adapters, timeoutFor, logger, allMws...)
	eng.pool = worker.NewPool(eng.scheduler, executor, eng.reconciler, store, logger,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithStaleAttemptThreshold(cfg.StaleAttemptThreshold),
		worker.WithReaperInterval(cfg.ReaperInterval),
		worker.WithPoolClock(eng.clock),
	)

	// The scheduler starts first and stops last.
	n.AddRunner(eng.scheduler)
	n.AddRunner(eng.pool)
	n.SetExtensions(eng.extensions)

	return eng, nil
}

// Start begins dispatching.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.n.Start(ctx)
}

// Stop stops intake, waits for in-flight attempts, and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.n.Stop(ctx)
}

// ──────────────────────────────────────────────────
// Service operations
// ──────────────────────────────────────────────────

// Create validates d, persists it as pending and hands it to the
// scheduler. A draft dated in the future is returned as scheduled.
func (eng *Engine) Create(ctx context.Context, d notification.Draft) (*notification.Notification, error) {
	n, err := d.Build(eng.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := eng.store.Create(ctx, n); err != nil {
		return nil, err
	}

	eng.extensions.EmitEnqueued(ctx, n)

	// The record is durable at this point; the sweep picks it up if the
	// scheduler could not.
	if err := eng.scheduler.Submit(ctx, n); err != nil {
		eng.logger.Warn("create: submit to scheduler failed",
			slog.String("notification_id", n.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return n, nil
}

// Get returns one notification.
func (eng *Engine) Get(ctx context.Context, nid id.ID) (*notification.Notification, error) {
	return eng.store.Get(ctx, nid)
}

// Page is one page of a List result.
type Page struct {
	Notifications []*notification.Notification
	Total         int64
	Page          int
	PageSize      int
}

// List returns a page of notifications, newest first.
func (eng *Engine) List(ctx context.Context, opts notification.ListOpts) (*Page, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	items, total, err := eng.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Page{
		Notifications: items,
		Total:         total,
		Page:          opts.Page,
		PageSize:      opts.PageSize,
	}, nil
}

// Update applies caller edits. Content can only change while the record
// is pending or scheduled; setting status is limited to cancelled and is
// handled like Cancel.
func (eng *Engine) Update(ctx context.Context, nid id.ID, p notification.Patch) (*notification.Notification, error) {
	if p.IsEmpty() {
		return nil, notifier.ErrEmptyPatch
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := callerOwned(p); err != nil {
		return nil, err
	}

	if p.Status.Set {
		if p.Status.Value != notification.StatusCancelled {
			return nil, fmt.Errorf("%w: status may only be set to %s", notifier.ErrInvalidTransition, notification.StatusCancelled)
		}
		if p.HasContent() {
			return nil, notifier.NewValidationError("status", "cannot be combined with other fields")
		}
		return eng.Cancel(ctx, nid)
	}

	for range maxWriteAttempts {
		n, err := eng.store.Get(ctx, nid)
		if err != nil {
			return nil, err
		}
		if !n.Status.IsQueued() {
			return nil, fmt.Errorf("%w: status is %s", notifier.ErrNotEditable, n.Status)
		}

		edit := p
		edit.UpdatedAt = eng.clock.Now()
		updated, err := eng.store.CompareAndSwap(ctx, nid, n.Version, edit)
		if errors.Is(err, notifier.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		// Priority and due time may have changed, so the queued item is
		// rebuilt.
		eng.scheduler.Forget(nid)
		if err := eng.scheduler.Submit(ctx, updated); err != nil {
			eng.logger.Warn("update: resubmit to scheduler failed",
				slog.String("notification_id", nid.String()),
				slog.String("error", err.Error()),
			)
		}
		return updated, nil
	}
	return nil, notifier.ErrConflict
}

// Cancel cancels a queued notification immediately. An in-flight one is
// flagged and cancelled once its attempt resolves without delivery.
// Cancelling an already cancelled notification is a no-op.
func (eng *Engine) Cancel(ctx context.Context, nid id.ID) (*notification.Notification, error) {
	for range maxWriteAttempts {
		n, err := eng.store.Get(ctx, nid)
		if err != nil {
			return nil, err
		}

		now := eng.clock.Now()
		var p notification.Patch
		switch n.Status {
		case notification.StatusCancelled:
			return n, nil
		case notification.StatusPending, notification.StatusScheduled:
			p = notification.Patch{Status: notification.Some(notification.StatusCancelled), UpdatedAt: now}
		case notification.StatusInFlight:
			if n.CancelRequested {
				return n, nil
			}
			p = notification.Patch{CancelRequested: notification.Some(true), UpdatedAt: now}
		case notification.StatusSent, notification.StatusFailed:
			return nil, fmt.Errorf("%w: %s notification cannot be cancelled", notifier.ErrInvalidTransition, n.Status)
		default:
			return nil, fmt.Errorf("%w: unknown status %q", notifier.ErrInvalidTransition, n.Status)
		}

		updated, err := eng.store.CompareAndSwap(ctx, nid, n.Version, p)
		if errors.Is(err, notifier.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if updated.Status == notification.StatusCancelled {
			eng.scheduler.Forget(nid)
			eng.extensions.EmitCancelled(ctx, updated)
		} else {
			eng.logger.Info("cancel requested for in-flight notification",
				slog.String("notification_id", nid.String()),
				slog.String("worker_id", updated.WorkerID),
			)
		}
		return updated, nil
	}
	return nil, notifier.ErrConflict
}

// Delete removes a notification. An attempt still in flight finds the
// record gone and is dropped as a conflict.
func (eng *Engine) Delete(ctx context.Context, nid id.ID) error {
	if err := eng.store.Delete(ctx, nid); err != nil {
		return err
	}
	eng.scheduler.Forget(nid)
	return nil
}

// Stats is a snapshot of stored and queued work.
type Stats struct {
	Counts  map[notification.Status]int64
	Total   int64
	Ready   int
	Delayed int
	Leased  int
}

// Stats returns record counts by status plus the scheduler's queue depth.
func (eng *Engine) Stats(ctx context.Context) (*Stats, error) {
	counts, err := eng.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{Counts: make(map[notification.Status]int64, len(notification.Statuses))}
	for _, s := range notification.Statuses {
		st.Counts[s] = counts[s]
		st.Total += counts[s]
	}
	st.Ready, st.Delayed, st.Leased = eng.scheduler.Depth()
	return st, nil
}

// callerOwned rejects dispatch bookkeeping fields in a caller patch.
func callerOwned(p notification.Patch) error {
	switch {
	case p.SentAt.Set:
		return notifier.NewValidationError(notification.FieldSentAt, "is managed by the dispatcher")
	case p.RetryCount.Set:
		return notifier.NewValidationError(notification.FieldRetryCount, "is managed by the dispatcher")
	case p.ErrorMessage.Set:
		return notifier.NewValidationError(notification.FieldErrorMessage, "is managed by the dispatcher")
	case p.AttemptToken.Set, p.WorkerID.Set, p.ClaimedAt.Set, p.CancelRequested.Set:
		return notifier.NewValidationError("attempt", "is managed by the dispatcher")
	}
	return nil
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Notifier returns the underlying Notifier.
func (eng *Engine) Notifier() *notifier.Notifier { return eng.n }

// Store returns the notification store.
func (eng *Engine) Store() notification.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Adapters returns the channel adapter registry.
func (eng *Engine) Adapters() *channel.Registry { return eng.adapters }

// Scheduler returns the scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the per-channel limiter, or nil when no limits
// were configured.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
