package reconcile_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/backoff"
	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/ext"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/reconcile"
	"github.com/xraph/notifier/retry"
	"github.com/xraph/notifier/scheduler"
	"github.com/xraph/notifier/store/memory"
)

var t0 = time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

// conflictRecorder captures conflict and failure events.
type conflictRecorder struct {
	mu        sync.Mutex
	conflicts []id.ID
	failed    []string
}

func (r *conflictRecorder) Name() string { return "conflict-recorder" }

func (r *conflictRecorder) OnConflict(_ context.Context, nid id.ID, _, _ string) error {
	r.mu.Lock()
	r.conflicts = append(r.conflicts, nid)
	r.mu.Unlock()
	return nil
}

func (r *conflictRecorder) OnFailed(_ context.Context, _ *notification.Notification, reason string, _ bool) error {
	r.mu.Lock()
	r.failed = append(r.failed, reason)
	r.mu.Unlock()
	return nil
}

type harness struct {
	store    notification.Store
	sched    *scheduler.Scheduler
	rec      *reconcile.Reconciler
	clock    *notifier.ManualClock
	recorder *conflictRecorder
}

func setup(t *testing.T, store notification.Store) *harness {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	logger := slog.Default()
	clock := notifier.NewManualClock(t0)
	recorder := &conflictRecorder{}
	extensions := ext.NewRegistry(logger)
	extensions.Register(recorder)

	sched := scheduler.New(store, extensions, logger, scheduler.WithClock(clock))
	rec := reconcile.New(store, retry.NewPolicy(backoff.NewConstant(time.Second)), extensions, logger,
		reconcile.WithClock(clock),
		reconcile.WithPublisher(sched),
	)
	return &harness{store: store, sched: sched, rec: rec, clock: clock, recorder: recorder}
}

func (h *harness) create(t *testing.T, maxRetries int) *notification.Notification {
	t.Helper()
	n, err := notification.Draft{
		Channel:    notification.ChannelSMS,
		Recipient:  "+15550100",
		Message:    "code 1234",
		MaxRetries: &maxRetries,
	}.Build(h.clock.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := h.store.Create(context.Background(), n); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.sched.Submit(context.Background(), n); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return n
}

func (h *harness) claim(t *testing.T) *scheduler.Claim {
	t.Helper()
	h.sched.Promote()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := h.sched.Next(ctx, "worker-1")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	h.sched.Release(c)
	return c
}

func (h *harness) apply(t *testing.T, c *scheduler.Claim, o channel.Outcome) reconcile.Result {
	t.Helper()
	res, err := h.rec.Apply(context.Background(), c, o, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return res
}

func (h *harness) get(t *testing.T, nid id.ID) *notification.Notification {
	t.Helper()
	n, err := h.store.Get(context.Background(), nid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return n
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

func TestApply_DeliveredMarksSent(t *testing.T) {
	h := setup(t, nil)
	n := h.create(t, 3)
	c := h.claim(t)

	h.clock.Advance(5 * time.Second)
	res := h.apply(t, c, channel.Delivered())
	if res.Conflict {
		t.Fatal("unexpected conflict")
	}

	got := h.get(t, n.ID)
	if got.Status != notification.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	if got.SentAt == nil || !got.SentAt.Equal(t0.Add(5*time.Second)) {
		t.Errorf("sent_at = %v, want %v", got.SentAt, t0.Add(5*time.Second))
	}
	if got.AttemptToken != "" || got.WorkerID != "" || got.ClaimedAt != nil {
		t.Error("attempt ownership should be cleared")
	}
}

func TestApply_TransientRetriesThenExhausts(t *testing.T) {
	h := setup(t, nil)
	n := h.create(t, 2)

	for attempt := 1; attempt <= 2; attempt++ {
		c := h.claim(t)
		res := h.apply(t, c, channel.Transient("gateway 503"))
		if res.Decision.Action != retry.Retry {
			t.Fatalf("attempt %d: action = %s, want retry", attempt, res.Decision.Action)
		}

		got := h.get(t, n.ID)
		if got.Status != notification.StatusScheduled || got.RetryCount != attempt {
			t.Fatalf("attempt %d: status=%s retry_count=%d", attempt, got.Status, got.RetryCount)
		}
		wantAt := h.clock.Now().Add(time.Second)
		if got.ScheduledAt == nil || !got.ScheduledAt.Equal(wantAt) {
			t.Fatalf("attempt %d: scheduled_at = %v, want %v", attempt, got.ScheduledAt, wantAt)
		}
		if got.ErrorMessage != "gateway 503" {
			t.Errorf("attempt %d: error_message = %q", attempt, got.ErrorMessage)
		}

		// The retry is republished and surfaces once its time arrives.
		if ready, delayed, _ := h.sched.Depth(); ready != 0 || delayed != 1 {
			t.Fatalf("attempt %d: depth %d/%d, want 0/1", attempt, ready, delayed)
		}
		h.clock.Advance(time.Second)
	}

	c := h.claim(t)
	res := h.apply(t, c, channel.Transient("gateway 503"))
	if res.Decision.Action != retry.Fail || !res.Decision.Exhausted {
		t.Fatalf("final decision = %+v, want exhausted fail", res.Decision)
	}

	got := h.get(t, n.ID)
	if got.Status != notification.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", got.RetryCount)
	}
	if !strings.Contains(got.ErrorMessage, "retries exhausted after 3 attempts") {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
	if len(h.recorder.failed) != 1 {
		t.Errorf("failed events = %d, want 1", len(h.recorder.failed))
	}
}

func TestApply_ZeroRetriesFailsOnFirstTransient(t *testing.T) {
	h := setup(t, nil)
	n := h.create(t, 0)

	h.apply(t, h.claim(t), channel.Transient("connection reset"))

	got := h.get(t, n.ID)
	if got.Status != notification.StatusFailed || got.RetryCount != 0 {
		t.Fatalf("status=%s retry_count=%d, want failed/0", got.Status, got.RetryCount)
	}
}

func TestApply_PermanentFailsImmediately(t *testing.T) {
	h := setup(t, nil)
	n := h.create(t, 5)

	h.apply(t, h.claim(t), channel.Permanent("invalid recipient"))

	got := h.get(t, n.ID)
	if got.Status != notification.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", got.RetryCount)
	}
	if got.ErrorMessage != "invalid recipient" {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func TestApply_CancelRequestedTurnsRetryIntoCancel(t *testing.T) {
	h := setup(t, nil)
	n := h.create(t, 3)
	c := h.claim(t)

	if _, err := h.store.Update(context.Background(), n.ID, notification.Patch{
		CancelRequested: notification.Some(true),
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	h.apply(t, c, channel.Transient("timeout"))

	got := h.get(t, n.ID)
	if got.Status != notification.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if _, delayed, _ := h.sched.Depth(); delayed != 0 {
		t.Error("cancelled notification must not be republished")
	}
}

func TestApply_CancelRequestedDeliveredStillSent(t *testing.T) {
	h := setup(t, nil)
	n := h.create(t, 3)
	c := h.claim(t)

	if _, err := h.store.Update(context.Background(), n.ID, notification.Patch{
		CancelRequested: notification.Some(true),
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	h.apply(t, c, channel.Delivered())
	if got := h.get(t, n.ID); got.Status != notification.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
}

// racingStore bumps the version with a cancel request just before the
// first compare-and-swap.
type racingStore struct {
	notification.Store
	once sync.Once
}

func (s *racingStore) CompareAndSwap(ctx context.Context, nid id.ID, version int64, p notification.Patch) (*notification.Notification, error) {
	if p.Status.Set && p.Status.Value != notification.StatusInFlight {
		s.once.Do(func() {
			_, _ = s.Store.Update(ctx, nid, notification.Patch{CancelRequested: notification.Some(true)})
		})
	}
	return s.Store.CompareAndSwap(ctx, nid, version, p)
}

func TestApply_RecomputesAfterSameOwnerVersionBump(t *testing.T) {
	h := setup(t, &racingStore{Store: memory.New()})
	n := h.create(t, 3)

	res := h.apply(t, h.claim(t), channel.Transient("503"))
	if res.Conflict {
		t.Fatal("a bookkeeping write by the same owner must not be a conflict")
	}
	if got := h.get(t, n.ID); got.Status != notification.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

// ──────────────────────────────────────────────────
// Conflicts
// ──────────────────────────────────────────────────

func TestApply_StaleTokenIsConflict(t *testing.T) {
	h := setup(t, nil)
	n := h.create(t, 3)
	c := h.claim(t)

	// Another owner took over the attempt.
	if _, err := h.store.Update(context.Background(), n.ID, notification.Patch{
		AttemptToken: notification.Some("someone-else"),
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	before := h.get(t, n.ID)

	res := h.apply(t, c, channel.Delivered())
	if !res.Conflict {
		t.Fatal("expected conflict")
	}

	after := h.get(t, n.ID)
	if after.Status != notification.StatusInFlight || after.Version != before.Version {
		t.Errorf("record changed on conflict: %s v%d", after.Status, after.Version)
	}
	if len(h.recorder.conflicts) != 1 || h.recorder.conflicts[0] != n.ID {
		t.Errorf("conflict events = %v", h.recorder.conflicts)
	}
}

func TestApply_DeletedRecordIsConflict(t *testing.T) {
	h := setup(t, nil)
	n := h.create(t, 3)
	c := h.claim(t)

	if err := h.store.Delete(context.Background(), n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	res := h.apply(t, c, channel.Delivered())
	if !res.Conflict {
		t.Fatal("expected conflict for deleted record")
	}
}

func TestApply_SecondOutcomeForSameAttemptIsConflict(t *testing.T) {
	h := setup(t, nil)
	h.create(t, 3)
	c := h.claim(t)

	h.apply(t, c, channel.Delivered())
	res := h.apply(t, c, channel.Transient("late timeout"))
	if !res.Conflict {
		t.Fatal("a second outcome for a resolved attempt must be dropped")
	}
}

// failingStore fails every read.
type failingStore struct{ notification.Store }

var errDown = errors.New("store down")

func (failingStore) Get(context.Context, id.ID) (*notification.Notification, error) {
	return nil, errDown
}

func TestApply_StoreErrorIsReturned(t *testing.T) {
	h := setup(t, nil)
	h.create(t, 3)
	c := h.claim(t)

	rec := reconcile.New(failingStore{h.store}, retry.NewPolicy(nil), ext.NewRegistry(slog.Default()), slog.Default())
	if _, err := rec.Apply(context.Background(), c, channel.Delivered(), 0); !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want store error", err)
	}
}
