package notifier

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Notifier.
type Option func(*Notifier) error

// Storer is the minimal store interface held by the Notifier. It covers
// lifecycle operations only; notification.Store embeds it and is used by
// the subsystem packages.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for the dispatch runtime lifecycle.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Notifier is the central coordinator. It owns the configuration, the
// logger, the clock and the store handle; engine.Build wires the scheduler,
// worker pool and reconciler around it.
type Notifier struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	clock      Clock
	extensions extensionEmitter
	runners    []runner

	started bool
}

// New creates a new Notifier with the given options.
func New(opts ...Option) (*Notifier, error) {
	n := &Notifier{
		config: DefaultConfig(),
		logger: slog.Default(),
		clock:  SystemClock(),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Logger returns the notifier's logger.
func (n *Notifier) Logger() *slog.Logger { return n.logger }

// Store returns the notifier's store.
func (n *Notifier) Store() Storer { return n.store }

// Clock returns the notifier's clock.
func (n *Notifier) Clock() Clock { return n.clock }

// Config returns a copy of the notifier's configuration.
func (n *Notifier) Config() Config { return n.config }

// AddRunner registers a component started by Start and stopped in reverse
// order by Stop (called by the engine package).
func (n *Notifier) AddRunner(r runner) { n.runners = append(n.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (n *Notifier) SetExtensions(e extensionEmitter) { n.extensions = e }

// Start starts every registered runner in order.
func (n *Notifier) Start(ctx context.Context) error {
	if n.store == nil || len(n.runners) == 0 {
		return ErrNoStore
	}
	for i, r := range n.runners {
		if err := r.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = n.runners[j].Stop(ctx) //nolint:errcheck // best-effort rollback
			}
			return err
		}
	}
	n.started = true
	return nil
}

// Stop gracefully shuts down the runners, emits the shutdown event and
// closes the store.
func (n *Notifier) Stop(ctx context.Context) error {
	if n.started {
		for i := len(n.runners) - 1; i >= 0; i-- {
			if err := n.runners[i].Stop(ctx); err != nil {
				n.logger.Error("runner stop error", slog.String("error", err.Error()))
			}
		}
		n.started = false
	}
	if n.extensions != nil {
		n.extensions.EmitShutdown(ctx)
	}
	if n.store != nil {
		return n.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(n *Notifier) error {
		n.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of dispatch workers.
func WithConcurrency(c int) Option {
	return func(n *Notifier) error {
		n.config.Concurrency = c
		return nil
	}
}

// WithSweepSchedule sets the cron expression of the durable sweep.
func WithSweepSchedule(expr string) Option {
	return func(n *Notifier) error {
		n.config.SweepSchedule = expr
		return nil
	}
}

// WithAttemptTimeout sets the default per-attempt hard deadline.
func WithAttemptTimeout(d time.Duration) Option {
	return func(n *Notifier) error {
		n.config.AttemptTimeout = d
		return nil
	}
}

// WithChannelTimeout sets the per-attempt deadline for one channel.
func WithChannelTimeout(channel string, d time.Duration) Option {
	return func(n *Notifier) error {
		if n.config.ChannelTimeouts == nil {
			n.config.ChannelTimeouts = map[string]time.Duration{}
		}
		n.config.ChannelTimeouts[channel] = d
		return nil
	}
}

// WithLogger sets the structured logger for the notifier.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) error {
		n.logger = l
		return nil
	}
}

// WithClock replaces the system clock, typically with a fake in tests.
func WithClock(c Clock) Option {
	return func(n *Notifier) error {
		n.clock = c
		return nil
	}
}

// WithStore sets the persistence backend. It must also implement
// notification.Store for engine.Build to accept it.
func WithStore(s Storer) Option {
	return func(n *Notifier) error {
		n.store = s
		return nil
	}
}
