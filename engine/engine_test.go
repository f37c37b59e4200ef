package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/backoff"
	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/engine"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/store/memory"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func newEngine(t *testing.T, clock notifier.Clock, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	nopts := []notifier.Option{
		notifier.WithStore(s),
		notifier.WithConcurrency(2),
		notifier.WithSweepSchedule("@every 1s"),
	}
	if clock != nil {
		nopts = append(nopts, notifier.WithClock(clock))
	}
	n, err := notifier.New(nopts...)
	if err != nil {
		t.Fatalf("notifier.New: %v", err)
	}
	eng, err := engine.Build(n, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng, s
}

func startEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func waitStatus(t *testing.T, eng *engine.Engine, nid id.ID, want notification.Status) *notification.Notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		n, err := eng.Get(context.Background(), nid)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if n.Status == want {
			return n
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s, status %s", want, n.Status)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func emailDraft() notification.Draft {
	return notification.Draft{
		Channel:   notification.ChannelEmail,
		Recipient: "user@example.com",
		Subject:   "Welcome",
		Message:   "Hello from the notifier",
	}
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_NoStore(t *testing.T) {
	n, err := notifier.New()
	if err != nil {
		t.Fatalf("notifier.New: %v", err)
	}
	if _, err := engine.Build(n); !errors.Is(err, notifier.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestBuild_InvalidSweepSchedule(t *testing.T) {
	n, err := notifier.New(
		notifier.WithStore(memory.New()),
		notifier.WithSweepSchedule("every now and then"),
	)
	if err != nil {
		t.Fatalf("notifier.New: %v", err)
	}
	if _, err := engine.Build(n); !notifier.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuild_ChannelTimeoutBeyondStaleThreshold(t *testing.T) {
	n, err := notifier.New(
		notifier.WithStore(memory.New()),
		notifier.WithChannelTimeout("webhook", 10*time.Minute),
	)
	if err != nil {
		t.Fatalf("notifier.New: %v", err)
	}
	if _, err := engine.Build(n); !notifier.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// End-to-end dispatch
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_Delivered(t *testing.T) {
	var mu sync.Mutex
	var got []string
	adapter := channel.Func(notification.ChannelEmail, func(_ context.Context, n *notification.Notification) channel.Outcome {
		mu.Lock()
		got = append(got, n.Recipient)
		mu.Unlock()
		return channel.Delivered()
	})

	eng, _ := newEngine(t, nil, engine.WithAdapter(adapter))
	startEngine(t, eng)

	n, err := eng.Create(context.Background(), emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Status != notification.StatusPending {
		t.Errorf("Status = %q, want pending", n.Status)
	}

	sent := waitStatus(t, eng, n.ID, notification.StatusSent)
	if sent.SentAt == nil {
		t.Error("SentAt should be set")
	}
	if sent.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", sent.RetryCount)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "user@example.com" {
		t.Errorf("adapter calls = %v", got)
	}
}

func TestEngine_TransientUntilExhausted(t *testing.T) {
	var calls atomic.Int32
	adapter := channel.Func(notification.ChannelEmail, func(context.Context, *notification.Notification) channel.Outcome {
		calls.Add(1)
		return channel.Transient("smtp 451")
	})

	eng, _ := newEngine(t, nil,
		engine.WithAdapter(adapter),
		engine.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)
	startEngine(t, eng)

	d := emailDraft()
	maxRetries := 2
	d.MaxRetries = &maxRetries
	n, err := eng.Create(context.Background(), d)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	failed := waitStatus(t, eng, n.ID, notification.StatusFailed)
	if failed.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", failed.RetryCount)
	}
	if !strings.HasPrefix(failed.ErrorMessage, "retries exhausted after 3 attempts") {
		t.Errorf("ErrorMessage = %q", failed.ErrorMessage)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("adapter calls = %d, want 3", got)
	}
}

func TestEngine_TransientTwiceThenDelivered(t *testing.T) {
	var calls atomic.Int32
	adapter := channel.Func(notification.ChannelEmail, func(context.Context, *notification.Notification) channel.Outcome {
		if calls.Add(1) <= 2 {
			return channel.Transient("smtp 451")
		}
		return channel.Delivered()
	})

	eng, _ := newEngine(t, nil,
		engine.WithAdapter(adapter),
		engine.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)
	startEngine(t, eng)

	d := emailDraft()
	maxRetries := 2
	d.MaxRetries = &maxRetries
	n, err := eng.Create(context.Background(), d)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sent := waitStatus(t, eng, n.ID, notification.StatusSent)
	if sent.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", sent.RetryCount)
	}
	if sent.SentAt == nil {
		t.Error("SentAt should be set")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("adapter calls = %d, want 3", got)
	}
}

func TestEngine_PermanentFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	adapter := channel.Func(notification.ChannelEmail, func(context.Context, *notification.Notification) channel.Outcome {
		calls.Add(1)
		return channel.Permanent("mailbox does not exist")
	})

	eng, _ := newEngine(t, nil, engine.WithAdapter(adapter))
	startEngine(t, eng)

	n, err := eng.Create(context.Background(), emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	failed := waitStatus(t, eng, n.ID, notification.StatusFailed)
	if failed.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", failed.RetryCount)
	}
	if failed.ErrorMessage != "mailbox does not exist" {
		t.Errorf("ErrorMessage = %q", failed.ErrorMessage)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("adapter calls = %d, want 1", got)
	}
}

func TestEngine_MissingAdapterIsPermanent(t *testing.T) {
	eng, _ := newEngine(t, nil)
	startEngine(t, eng)

	n, err := eng.Create(context.Background(), emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	failed := waitStatus(t, eng, n.ID, notification.StatusFailed)
	if failed.ErrorMessage == "" {
		t.Error("ErrorMessage should explain the missing adapter")
	}
}

// ──────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────

func TestEngine_Create_Validation(t *testing.T) {
	eng, _ := newEngine(t, notifier.NewManualClock(fixedNow))

	d := emailDraft()
	d.Recipient = "   "
	if _, err := eng.Create(context.Background(), d); !notifier.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	page, err := eng.List(context.Background(), notification.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("invalid draft must not be stored, total = %d", page.Total)
	}
}

func TestEngine_Create_FutureIsScheduled(t *testing.T) {
	clock := notifier.NewManualClock(fixedNow)
	eng, s := newEngine(t, clock)

	d := emailDraft()
	at := fixedNow.Add(time.Hour)
	d.ScheduledAt = &at

	n, err := eng.Create(context.Background(), d)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Status != notification.StatusScheduled {
		t.Errorf("Status = %q, want scheduled", n.Status)
	}

	stored, err := s.Get(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != notification.StatusScheduled {
		t.Errorf("stored Status = %q, want scheduled", stored.Status)
	}

	ready, delayed, _ := eng.Scheduler().Depth()
	if ready != 0 || delayed != 1 {
		t.Errorf("Depth = (%d, %d), want (0, 1)", ready, delayed)
	}
}

// ──────────────────────────────────────────────────
// Update
// ──────────────────────────────────────────────────

func TestEngine_Update(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(t, notifier.NewManualClock(fixedNow))

	n, err := eng.Create(ctx, emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := eng.Update(ctx, n.ID, notification.Patch{
		Subject:  notification.Some("Updated"),
		Priority: notification.Some(notification.PriorityUrgent),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Subject != "Updated" || updated.Priority != notification.PriorityUrgent {
		t.Errorf("Update did not apply: %+v", updated)
	}
	if updated.Message != n.Message {
		t.Errorf("Message changed: %q", updated.Message)
	}
	if updated.Version != n.Version+1 {
		t.Errorf("Version = %d, want %d", updated.Version, n.Version+1)
	}
}

func TestEngine_Update_Rejections(t *testing.T) {
	ctx := context.Background()
	eng, s := newEngine(t, notifier.NewManualClock(fixedNow))

	n, err := eng.Create(ctx, emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := eng.Update(ctx, n.ID, notification.Patch{}); !errors.Is(err, notifier.ErrEmptyPatch) {
		t.Errorf("empty patch: got %v", err)
	}
	if _, err := eng.Update(ctx, n.ID, notification.Patch{
		Status: notification.Some(notification.StatusSent),
	}); !errors.Is(err, notifier.ErrInvalidTransition) {
		t.Errorf("status sent: got %v", err)
	}
	if _, err := eng.Update(ctx, n.ID, notification.Patch{
		RetryCount: notification.Some(5),
	}); !notifier.IsValidation(err) {
		t.Errorf("bookkeeping field: got %v", err)
	}
	if _, err := eng.Update(ctx, id.New(), notification.Patch{
		Subject: notification.Some("x"),
	}); !errors.Is(err, notifier.ErrNotFound) {
		t.Errorf("missing record: got %v", err)
	}

	if _, err := s.Update(ctx, n.ID, notification.Patch{
		Status: notification.Some(notification.StatusSent),
	}); err != nil {
		t.Fatalf("store Update: %v", err)
	}
	if _, err := eng.Update(ctx, n.ID, notification.Patch{
		Subject: notification.Some("too late"),
	}); !errors.Is(err, notifier.ErrNotEditable) {
		t.Errorf("sent record: got %v", err)
	}
}

func TestEngine_Update_StatusCancelled(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(t, notifier.NewManualClock(fixedNow))

	n, err := eng.Create(ctx, emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := eng.Update(ctx, n.ID, notification.Patch{
		Status: notification.Some(notification.StatusCancelled),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != notification.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", updated.Status)
	}
}

// ──────────────────────────────────────────────────
// Cancel
// ──────────────────────────────────────────────────

func TestEngine_Cancel_Queued(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(t, notifier.NewManualClock(fixedNow))

	n, err := eng.Create(ctx, emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled, err := eng.Cancel(ctx, n.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != notification.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", cancelled.Status)
	}
	if ready, delayed, _ := eng.Scheduler().Depth(); ready+delayed != 0 {
		t.Errorf("cancelled record still queued: ready=%d delayed=%d", ready, delayed)
	}

	again, err := eng.Cancel(ctx, n.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if again.Version != cancelled.Version {
		t.Errorf("second Cancel wrote: version %d -> %d", cancelled.Version, again.Version)
	}
}

func TestEngine_Cancel_InFlightIsDeferred(t *testing.T) {
	ctx := context.Background()
	eng, s := newEngine(t, notifier.NewManualClock(fixedNow))

	n, err := eng.Create(ctx, emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Update(ctx, n.ID, notification.Patch{
		Status:       notification.Some(notification.StatusInFlight),
		AttemptToken: notification.Some("token-1"),
		WorkerID:     notification.Some("w/0"),
	}); err != nil {
		t.Fatalf("store Update: %v", err)
	}

	flagged, err := eng.Cancel(ctx, n.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if flagged.Status != notification.StatusInFlight || !flagged.CancelRequested {
		t.Errorf("got status %q cancel_requested %v", flagged.Status, flagged.CancelRequested)
	}
}

func TestEngine_Cancel_Terminal(t *testing.T) {
	ctx := context.Background()
	eng, s := newEngine(t, notifier.NewManualClock(fixedNow))

	n, err := eng.Create(ctx, emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Update(ctx, n.ID, notification.Patch{
		Status: notification.Some(notification.StatusFailed),
	}); err != nil {
		t.Fatalf("store Update: %v", err)
	}

	if _, err := eng.Cancel(ctx, n.ID); !errors.Is(err, notifier.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Delete, List, Stats
// ──────────────────────────────────────────────────

func TestEngine_Delete(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(t, notifier.NewManualClock(fixedNow))

	n, err := eng.Create(ctx, emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := eng.Get(ctx, n.ID); !errors.Is(err, notifier.ErrNotFound) {
		t.Errorf("Get after Delete: got %v", err)
	}
	if ready, _, _ := eng.Scheduler().Depth(); ready != 0 {
		t.Errorf("deleted record still ready")
	}
	if err := eng.Delete(ctx, n.ID); !errors.Is(err, notifier.ErrNotFound) {
		t.Errorf("second Delete: got %v", err)
	}
}

func TestEngine_List(t *testing.T) {
	ctx := context.Background()
	clock := notifier.NewManualClock(fixedNow)
	eng, _ := newEngine(t, clock)

	for range 3 {
		if _, err := eng.Create(ctx, emailDraft()); err != nil {
			t.Fatalf("Create: %v", err)
		}
		clock.Advance(time.Second)
	}

	page, err := eng.List(ctx, notification.ListOpts{PageSize: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 3 || len(page.Notifications) != 2 || page.Page != 1 || page.PageSize != 2 {
		t.Errorf("page = total %d len %d page %d size %d", page.Total, len(page.Notifications), page.Page, page.PageSize)
	}
	if !page.Notifications[0].CreatedAt.After(page.Notifications[1].CreatedAt) {
		t.Error("List should be newest first")
	}

	if _, err := eng.List(ctx, notification.ListOpts{PageSize: 101}); !notifier.IsValidation(err) {
		t.Errorf("page_size 101: got %v", err)
	}
}

func TestEngine_Stats(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(t, notifier.NewManualClock(fixedNow))

	a, err := eng.Create(ctx, emailDraft())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.Create(ctx, emailDraft()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	st, err := eng.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 2 {
		t.Errorf("Total = %d, want 2", st.Total)
	}
	if st.Counts[notification.StatusPending] != 1 || st.Counts[notification.StatusCancelled] != 1 {
		t.Errorf("Counts = %v", st.Counts)
	}
	if _, ok := st.Counts[notification.StatusSent]; !ok {
		t.Error("Counts should list every status")
	}
	if st.Ready != 1 {
		t.Errorf("Ready = %d, want 1", st.Ready)
	}
}
