// Package scheduler decides which notification is dispatched next.
//
// A single ready queue feeds the worker pool. It is filled from three
// sources: Submit calls for new and edited notifications, a delayed set
// promoted as the clock passes each scheduled_at, and a periodic sweep of
// the record store that recovers anything the in-memory structures missed
// (for example after a restart). Next pops the head of the queue and claims
// it in the store with a compare-and-swap, so two workers, or two engine
// processes sharing a store, never dispatch the same notification at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/ext"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/queue"
)

// ErrStopped is returned by Next once the scheduler has been stopped and
// the ready queue is drained.
var ErrStopped = errors.New("scheduler: stopped")

// maxClaimRetries bounds how many times Next re-reads a record whose
// claim lost a version race to a non-dispatch write.
const maxClaimRetries = 3

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a sweep cadence. Standard five-field cron
// expressions and descriptors such as "@every 1s" are accepted.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Limiter gates dispatch per channel and recipient. The scheduler calls
// Acquire before claiming and the worker releases through Scheduler.Release.
type Limiter interface {
	Acquire(ch notification.Channel, recipient string) bool
	Release(ch notification.Channel, recipient string)
}

// Claim is a notification leased to one worker for one attempt.
type Claim struct {
	// Notification is the record as it was written by the claim.
	Notification *notification.Notification
	Token        string
	WorkerID     string
}

// ID returns the claimed notification's ID.
func (c *Claim) ID() id.ID { return c.Notification.ID }

// Scheduler owns the ready queue and the delayed set.
type Scheduler struct {
	store      notification.Store
	extensions *ext.Registry
	logger     *slog.Logger
	clock      notifier.Clock
	limiter    Limiter

	ready   *queue.Ready
	delayed *queue.Delayed

	sweepSchedule string
	batchSize     int
	tick          time.Duration

	wake    chan struct{}
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for due-time decisions.
func WithClock(c notifier.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLimiter sets the per-channel dispatch gate.
func WithLimiter(l Limiter) Option {
	return func(s *Scheduler) { s.limiter = l }
}

// WithSweepSchedule sets the cron expression for the durable sweep.
func WithSweepSchedule(expr string) Option {
	return func(s *Scheduler) { s.sweepSchedule = expr }
}

// WithBatchSize sets how many due records one sweep loads.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) { s.batchSize = n }
}

// WithTickInterval sets the upper bound between delayed-set promotions,
// and the hold applied to items that could not be claimed right now.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// New creates a Scheduler over store.
func New(store notification.Store, extensions *ext.Registry, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:         store,
		extensions:    extensions,
		logger:        logger,
		clock:         notifier.SystemClock(),
		ready:         queue.NewReady(),
		delayed:       queue.NewDelayed(),
		sweepSchedule: "@every 1s",
		batchSize:     100,
		tick:          100 * time.Millisecond,
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads everything already due and launches the sweep and
// promotion loops. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	sched, err := ParseSchedule(s.sweepSchedule)
	if err != nil {
		return fmt.Errorf("scheduler: parse sweep schedule %q: %w", s.sweepSchedule, err)
	}

	if _, err := s.Sweep(ctx); err != nil {
		return fmt.Errorf("scheduler: initial sweep: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.logger.Info("scheduler starting",
		slog.String("sweep_schedule", s.sweepSchedule),
		slog.Int("batch_size", s.batchSize),
	)

	s.wg.Add(2)
	go s.sweepLoop(loopCtx, sched)
	go s.promoteLoop()

	return nil
}

// Stop halts the loops and closes the ready queue. Workers blocked in
// Next receive ErrStopped once the queue is drained.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.ready.Close()
	if wasRunning {
		s.cancel()
		s.wg.Wait()
	}

	s.logger.Info("scheduler stopped")
	return nil
}

// ──────────────────────────────────────────────────
// Intake
// ──────────────────────────────────────────────────

// Submit routes n to the ready queue or the delayed set. A pending
// notification dated in the future is first moved to scheduled. Records
// that are no longer queued are dropped from both structures.
func (s *Scheduler) Submit(ctx context.Context, n *notification.Notification) error {
	if !n.Status.IsQueued() {
		s.Forget(n.ID)
		return nil
	}

	now := s.clock.Now()
	if n.IsDue(now) {
		s.delayed.Remove(n.ID)
		s.enqueue(queue.ItemFor(n), now)
		return nil
	}

	if n.Status == notification.StatusPending {
		updated, err := s.store.CompareAndSwap(ctx, n.ID, n.Version, notification.Patch{
			Status:    notification.Some(notification.StatusScheduled),
			UpdatedAt: now,
		})
		switch {
		case errors.Is(err, notifier.ErrConflict), errors.Is(err, notifier.ErrNotFound):
			// Another writer got there first. It resubmits, and the sweep
			// covers the rest.
			s.logger.Debug("submit: record changed before scheduling",
				slog.String("notification_id", n.ID.String()),
			)
			return nil
		case err != nil:
			return fmt.Errorf("scheduler: mark scheduled: %w", err)
		}
		*n = *updated
	}

	s.ready.Remove(n.ID)
	s.delayed.Add(queue.ItemFor(n))
	s.nudge()
	return nil
}

// Forget removes nid from the ready queue and the delayed set. A leased
// item is left to its worker.
func (s *Scheduler) Forget(nid id.ID) {
	s.ready.Remove(nid)
	s.delayed.Remove(nid)
}

// Sweep loads due records from the store into the ready queue and
// returns how many were newly queued.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.store.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, n := range due {
		if s.ready.IsLeased(n.ID) {
			continue
		}
		s.delayed.Remove(n.ID)
		if s.ready.Push(queue.ItemFor(n)) {
			queued++
		}
	}
	if queued > 0 {
		s.logger.Debug("sweep queued due notifications", slog.Int("count", queued))
	}
	return queued, nil
}

// Promote moves every delayed item whose time has come into the ready
// queue and returns how many moved.
func (s *Scheduler) Promote() int {
	now := s.clock.Now()
	moved := 0
	for _, it := range s.delayed.PopDue(now) {
		if s.enqueue(it, now) {
			moved++
		}
	}
	return moved
}

// enqueue pushes it to the ready queue, holding it back for one tick if
// a worker still leases the same ID.
func (s *Scheduler) enqueue(it queue.Item, now time.Time) bool {
	if s.ready.IsLeased(it.ID) {
		it.NotBefore = now.Add(s.tick)
		s.delayed.Add(it)
		return false
	}
	return s.ready.Push(it)
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ──────────────────────────────────────────────────
// Claiming
// ──────────────────────────────────────────────────

// Next blocks until a notification is claimed for workerID. Items whose
// record vanished, stopped being eligible, or lost the claim race are
// discarded and the next one is popped.
func (s *Scheduler) Next(ctx context.Context, workerID string) (*Claim, error) {
	for {
		it, err := s.ready.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil, ErrStopped
		}
		if err != nil {
			return nil, err
		}

		claim, err := s.claim(ctx, it, workerID)
		if err != nil {
			return nil, err
		}
		if claim != nil {
			return claim, nil
		}
	}
}

// claim tries to move the record behind it to in_flight. A nil claim
// with a nil error means the item was discarded.
func (s *Scheduler) claim(ctx context.Context, it queue.Item, workerID string) (*Claim, error) {
	for range maxClaimRetries {
		n, err := s.store.Get(ctx, it.ID)
		if errors.Is(err, notifier.ErrNotFound) {
			s.ready.Done(it.ID)
			return nil, nil
		}
		if err != nil {
			s.hold(it)
			return nil, fmt.Errorf("scheduler: load %s: %w", it.ID, err)
		}

		now := s.clock.Now()
		if !n.Eligible(now) {
			s.ready.Done(it.ID)
			if n.Status.IsQueued() {
				s.delayed.Add(queue.ItemFor(n))
				s.nudge()
			}
			return nil, nil
		}

		if s.limiter != nil && !s.limiter.Acquire(n.Channel, n.Recipient) {
			s.hold(queue.ItemFor(n))
			return nil, nil
		}

		token := uuid.NewString()
		updated, err := s.store.CompareAndSwap(ctx, n.ID, n.Version, notification.Patch{
			Status:       notification.Some(notification.StatusInFlight),
			AttemptToken: notification.Some(token),
			WorkerID:     notification.Some(workerID),
			ClaimedAt:    notification.Some(&now),
			UpdatedAt:    now,
		})
		switch {
		case err == nil:
			c := &Claim{Notification: updated, Token: token, WorkerID: workerID}
			s.extensions.EmitAttemptStarted(ctx, updated)
			return c, nil
		case errors.Is(err, notifier.ErrConflict):
			s.releaseLimit(n)
			s.logger.Debug("claim lost version race",
				slog.String("notification_id", n.ID.String()),
				slog.String("worker_id", workerID),
			)
			// Re-read: an edit may have bumped the version while the
			// record is still eligible.
			continue
		case errors.Is(err, notifier.ErrNotFound):
			s.releaseLimit(n)
			s.ready.Done(it.ID)
			return nil, nil
		default:
			s.releaseLimit(n)
			s.hold(queue.ItemFor(n))
			return nil, fmt.Errorf("scheduler: claim %s: %w", n.ID, err)
		}
	}

	s.ready.Done(it.ID)
	return nil, nil
}

// hold releases the lease on it and parks it in the delayed set for one
// tick.
func (s *Scheduler) hold(it queue.Item) {
	s.ready.Done(it.ID)
	it.NotBefore = s.clock.Now().Add(s.tick)
	s.delayed.Add(it)
	s.nudge()
}

func (s *Scheduler) releaseLimit(n *notification.Notification) {
	if s.limiter != nil {
		s.limiter.Release(n.Channel, n.Recipient)
	}
}

// Release ends the lease taken by Next. Workers call it once the attempt
// has returned, before the outcome is reconciled.
func (s *Scheduler) Release(c *Claim) {
	s.ready.Done(c.ID())
	s.releaseLimit(c.Notification)
}

// Depth reports the number of queued, delayed, and leased items.
func (s *Scheduler) Depth() (ready, delayed, leased int) {
	return s.ready.Len(), s.delayed.Len(), s.ready.Leased()
}

// ──────────────────────────────────────────────────
// Loops
// ──────────────────────────────────────────────────

func (s *Scheduler) sweepLoop(ctx context.Context, sched cronlib.Schedule) {
	defer s.wg.Done()

	for {
		now := time.Now()
		timer := time.NewTimer(sched.Next(now).Sub(now))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep error", slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) promoteLoop() {
	defer s.wg.Done()

	for {
		wait := s.tick
		if next, ok := s.delayed.Next(); ok {
			if d := next.Sub(s.clock.Now()); d < wait {
				wait = max(d, 0)
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}

		s.Promote()
	}
}
