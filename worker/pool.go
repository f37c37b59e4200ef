package worker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/reconcile"
	"github.com/xraph/notifier/scheduler"
)

// Source hands out claimed notifications. The scheduler implements it.
type Source interface {
	Next(ctx context.Context, workerID string) (*scheduler.Claim, error)
	Release(c *scheduler.Claim)
}

// Reconciler persists attempt outcomes.
type Reconciler interface {
	Apply(ctx context.Context, c *scheduler.Claim, o channel.Outcome, elapsed time.Duration) (reconcile.Result, error)
}

// Pool manages a fixed set of worker goroutines that take claims from a
// Source, execute them, and reconcile the outcome.
type Pool struct {
	source     Source
	executor   *Executor
	reconciler Reconciler
	store      notification.Store
	clock      notifier.Clock
	logger     *slog.Logger

	concurrency      int
	workerID         string
	retryPause       time.Duration
	reconcileTimeout time.Duration

	// Reaper configuration.
	staleAttemptThreshold time.Duration
	reaperInterval        time.Duration

	intakeCtx    context.Context
	stopIntake   context.CancelFunc
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
	activeMu     sync.Mutex
	activeTokens map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithWorkerID sets the pool's identifier. Each goroutine appends its
// index to it.
func WithWorkerID(workerID string) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// WithStaleAttemptThreshold sets how long an in-flight attempt may stay
// claimed before the reaper treats it as abandoned. Zero disables the
// reaper.
func WithStaleAttemptThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleAttemptThreshold = d }
}

// WithReaperInterval sets how often the reaper scans for abandoned
// attempts.
func WithReaperInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reaperInterval = d }
}

// WithReconcileTimeout bounds one outcome write. A hung store then leaves
// the record in_flight for the reaper instead of blocking Stop.
func WithReconcileTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.reconcileTimeout = d
		}
	}
}

// WithPoolClock sets the clock the reaper measures staleness with.
func WithPoolClock(c notifier.Clock) PoolOption {
	return func(p *Pool) { p.clock = c }
}

// NewPool creates a worker pool. store is only read by the reaper.
func NewPool(
	source Source,
	executor *Executor,
	reconciler Reconciler,
	store notification.Store,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		source:         source,
		executor:       executor,
		reconciler:     reconciler,
		store:          store,
		clock:          notifier.SystemClock(),
		logger:         logger,
		concurrency:    10,
		workerID:       "notifier-" + uuid.NewString()[:8],
		retryPause:       time.Second,
		reconcileTimeout: 30 * time.Second,
		reaperInterval:   30 * time.Second,
		stopCh:           make(chan struct{}),
		activeTokens:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's identifier.
func (p *Pool) WorkerID() string { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.intakeCtx, p.stopIntake = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID),
		slog.Int("concurrency", p.concurrency),
	)

	for i := range p.concurrency {
		p.wg.Add(1)
		go p.dispatchLoop(p.workerID + "/" + strconv.Itoa(i))
	}

	if p.staleAttemptThreshold > 0 && p.reaperInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop stops taking new claims and waits for attempts in progress to be
// reconciled. If ctx ends first, those attempts are cancelled; their
// outcome is reconciled as transient within the reconcile timeout.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID))

	p.stopIntake()
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active attempts")
		p.cancelActiveAttempts()
		<-done
	}

	return nil
}

// dispatchLoop is run by each worker goroutine.
func (p *Pool) dispatchLoop(workerID string) {
	defer p.wg.Done()

	for {
		claim, err := p.source.Next(p.intakeCtx, workerID)
		if err != nil {
			if errors.Is(err, scheduler.ErrStopped) || p.intakeCtx.Err() != nil {
				return
			}
			p.logger.Error("claim error",
				slog.String("worker_id", workerID),
				slog.String("error", err.Error()),
			)
			p.pause()
			continue
		}

		p.process(claim)
	}
}

// process executes one claim and reconciles it. The lease is released
// before reconciling so a retry can be queued again right away. The attempt
// stays tracked until its outcome is written so the reaper never reclaims
// it in between.
func (p *Pool) process(claim *scheduler.Claim) {
	ctx, cancel := context.WithCancel(context.Background())
	p.trackAttempt(claim.Token, cancel)
	defer p.untrackAttempt(claim.Token)

	outcome, elapsed := p.executor.Execute(ctx, claim.Notification)
	cancel()
	p.source.Release(claim)

	rctx, rcancel := context.WithTimeout(context.Background(), p.reconcileTimeout)
	defer rcancel()

	if _, err := p.reconciler.Apply(rctx, claim, outcome, elapsed); err != nil {
		// The record stays in_flight and the reaper retries it later.
		p.logger.Error("failed to reconcile attempt",
			slog.String("notification_id", claim.ID().String()),
			slog.String("worker_id", claim.WorkerID),
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()),
		)
	}
}

// reaperLoop periodically reconciles abandoned attempts.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.Reap(context.Background()); err != nil {
				p.logger.Error("reap stale attempts error", slog.String("error", err.Error()))
			}
		}
	}
}

// Reap reconciles in_flight notifications claimed longer than the stale
// threshold ago as transient failures and returns how many were
// reconciled. Attempts still running in this pool are skipped.
func (p *Pool) Reap(ctx context.Context) (int, error) {
	if p.staleAttemptThreshold <= 0 {
		return 0, nil
	}

	before := p.clock.Now().Add(-p.staleAttemptThreshold)
	stale, err := p.store.ListStale(ctx, before, 100)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, n := range stale {
		if p.isActive(n.AttemptToken) {
			continue
		}

		claim := &scheduler.Claim{Notification: n, Token: n.AttemptToken, WorkerID: n.WorkerID}
		res, err := p.reconciler.Apply(ctx, claim, channel.Transient("attempt abandoned"), 0)
		if err != nil {
			p.logger.Error("reap: failed to reconcile stale attempt",
				slog.String("notification_id", n.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if res.Conflict {
			continue
		}

		reaped++
		p.logger.Info("reaped stale attempt",
			slog.String("notification_id", n.ID.String()),
			slog.String("worker_id", n.WorkerID),
			slog.String("status", string(res.Notification.Status)),
		)
	}
	return reaped, nil
}

func (p *Pool) pause() {
	select {
	case <-time.After(p.retryPause):
	case <-p.stopCh:
	}
}

func (p *Pool) trackAttempt(token string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeTokens[token] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackAttempt(token string) {
	p.activeMu.Lock()
	delete(p.activeTokens, token)
	p.activeMu.Unlock()
}

func (p *Pool) isActive(token string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.activeTokens[token]
	return ok
}

func (p *Pool) cancelActiveAttempts() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for token, cancel := range p.activeTokens {
		p.logger.Warn("cancelling active attempt", slog.String("attempt_token", token))
		cancel()
	}
}
