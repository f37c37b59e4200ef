// Package storetest is a conformance suite every notification.Store
// backend runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// Factory returns a fresh, empty, migrated store.
type Factory func(t *testing.T) notification.Store

// base is millisecond aligned so every backend round-trips it exactly.
var base = time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, notification.Store)
	}{
		{"CreateGet", testCreateGet},
		{"GetNotFound", testGetNotFound},
		{"ListPagingAndOrder", testListPagingAndOrder},
		{"ListFilters", testListFilters},
		{"UpdateBumpsVersion", testUpdateBumpsVersion},
		{"UpdateNotFound", testUpdateNotFound},
		{"Delete", testDelete},
		{"CompareAndSwap", testCompareAndSwap},
		{"CompareAndSwapRace", testCompareAndSwapRace},
		{"ListDue", testListDue},
		{"ListStale", testListStale},
		{"CountByStatus", testCountByStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func draft(t *testing.T, ch notification.Channel, p notification.Priority, created time.Time) *notification.Notification {
	t.Helper()
	n, err := notification.Draft{
		Channel:   ch,
		Recipient: "user@example.com",
		Subject:   "Welcome!",
		Message:   "Welcome to our platform",
		Priority:  p,
		Metadata:  map[string]any{"user_id": "123"},
	}.Build(created)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return n
}

func create(t *testing.T, s notification.Store, n *notification.Notification) *notification.Notification {
	t.Helper()
	if err := s.Create(context.Background(), n); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return n
}

func testCreateGet(t *testing.T, s notification.Store) {
	ctx := context.Background()
	n := create(t, s, draft(t, notification.ChannelEmail, notification.PriorityHigh, base))

	if n.ID.IsNil() {
		t.Fatal("Create should assign an ID")
	}
	if n.Version != 1 {
		t.Errorf("Version = %d, want 1", n.Version)
	}

	got, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != n.ID || got.Channel != notification.ChannelEmail || got.Priority != notification.PriorityHigh {
		t.Errorf("Get returned %+v", got)
	}
	if got.Status != notification.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Metadata["user_id"] != "123" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if got.MaxRetries != notification.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d", got.MaxRetries)
	}
}

func testGetNotFound(t *testing.T, s notification.Store) {
	if _, err := s.Get(context.Background(), id.New()); !errors.Is(err, notifier.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func testListPagingAndOrder(t *testing.T, s notification.Store) {
	ctx := context.Background()
	var ids []id.ID
	for i := range 25 {
		n := create(t, s, draft(t, notification.ChannelEmail, notification.PriorityNormal, base.Add(time.Duration(i)*time.Second)))
		ids = append(ids, n.ID)
	}

	page, total, err := s.List(ctx, notification.ListOpts{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 25 {
		t.Errorf("total = %d, want 25", total)
	}
	if len(page) != 10 {
		t.Fatalf("len = %d, want 10", len(page))
	}
	// Newest first.
	if page[0].ID != ids[24] || page[9].ID != ids[15] {
		t.Errorf("page 1 not ordered by created_at desc")
	}

	last, _, err := s.List(ctx, notification.ListOpts{Page: 3, PageSize: 10})
	if err != nil {
		t.Fatalf("List page 3: %v", err)
	}
	if len(last) != 5 || last[4].ID != ids[0] {
		t.Errorf("page 3 = %d items", len(last))
	}

	empty, total, err := s.List(ctx, notification.ListOpts{Page: 9, PageSize: 10})
	if err != nil {
		t.Fatalf("List page 9: %v", err)
	}
	if len(empty) != 0 || total != 25 {
		t.Errorf("page past end: %d items, total %d", len(empty), total)
	}
}

func testListFilters(t *testing.T, s notification.Store) {
	ctx := context.Background()
	create(t, s, draft(t, notification.ChannelEmail, notification.PriorityNormal, base))
	create(t, s, draft(t, notification.ChannelSMS, notification.PriorityNormal, base))
	sent := create(t, s, draft(t, notification.ChannelSMS, notification.PriorityNormal, base))
	if _, err := s.Update(ctx, sent.ID, notification.Patch{Status: notification.Some(notification.StatusSent)}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	items, total, err := s.List(ctx, notification.ListOpts{Channel: notification.ChannelSMS, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("channel filter: total %d len %d", total, len(items))
	}

	items, total, err = s.List(ctx, notification.ListOpts{Status: notification.StatusSent, Channel: notification.ChannelSMS, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != sent.ID {
		t.Errorf("status+channel filter: total %d", total)
	}
}

func testUpdateBumpsVersion(t *testing.T, s notification.Store) {
	ctx := context.Background()
	n := create(t, s, draft(t, notification.ChannelEmail, notification.PriorityNormal, base))
	later := base.Add(time.Minute)
	at := base.Add(time.Hour)

	got, err := s.Update(ctx, n.ID, notification.Patch{
		Subject:     notification.Some("Updated"),
		ScheduledAt: notification.Some(&at),
		UpdatedAt:   later,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Subject != "Updated" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if got.Message != n.Message {
		t.Error("untouched field changed")
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) {
		t.Errorf("ScheduledAt = %v", got.ScheduledAt)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}

	cleared, err := s.Update(ctx, n.ID, notification.Patch{ScheduledAt: notification.Some[*time.Time](nil)})
	if err != nil {
		t.Fatalf("Update clear: %v", err)
	}
	if cleared.ScheduledAt != nil {
		t.Error("ScheduledAt should be cleared")
	}
}

func testUpdateNotFound(t *testing.T, s notification.Store) {
	_, err := s.Update(context.Background(), id.New(), notification.Patch{Subject: notification.Some("x")})
	if !errors.Is(err, notifier.ErrNotFound) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
}

func testDelete(t *testing.T, s notification.Store) {
	ctx := context.Background()
	n := create(t, s, draft(t, notification.ChannelPush, notification.PriorityLow, base))

	if err := s.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, n.ID); !errors.Is(err, notifier.ErrNotFound) {
		t.Fatalf("Get after Delete = %v", err)
	}
	if err := s.Delete(ctx, n.ID); !errors.Is(err, notifier.ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}

func testCompareAndSwap(t *testing.T, s notification.Store) {
	ctx := context.Background()
	n := create(t, s, draft(t, notification.ChannelWebhook, notification.PriorityNormal, base))
	claimed := base.Add(time.Second)

	got, err := s.CompareAndSwap(ctx, n.ID, 1, notification.Patch{
		Status:       notification.Some(notification.StatusInFlight),
		AttemptToken: notification.Some("tok-1"),
		WorkerID:     notification.Some("worker-a"),
		ClaimedAt:    notification.Some(&claimed),
	})
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if got.Status != notification.StatusInFlight || got.AttemptToken != "tok-1" || got.Version != 2 {
		t.Errorf("after CAS: status %q token %q version %d", got.Status, got.AttemptToken, got.Version)
	}

	if _, err := s.CompareAndSwap(ctx, n.ID, 1, notification.Patch{Status: notification.Some(notification.StatusSent)}); !errors.Is(err, notifier.ErrConflict) {
		t.Fatalf("stale CAS error = %v, want ErrConflict", err)
	}
	if _, err := s.CompareAndSwap(ctx, id.New(), 1, notification.Patch{Status: notification.Some(notification.StatusSent)}); !errors.Is(err, notifier.ErrNotFound) {
		t.Fatalf("missing CAS error = %v, want ErrNotFound", err)
	}

	stored, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != notification.StatusInFlight {
		t.Errorf("stale CAS must not write, status = %q", stored.Status)
	}
}

func testCompareAndSwapRace(t *testing.T, s notification.Store) {
	ctx := context.Background()
	n := create(t, s, draft(t, notification.ChannelSlack, notification.PriorityNormal, base))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndSwap(ctx, n.ID, 1, notification.Patch{
				Status:   notification.Some(notification.StatusInFlight),
				WorkerID: notification.Some(string(rune('a' + i))),
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, notifier.ErrConflict):
			default:
				t.Errorf("CAS: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("%d CAS calls won, want exactly 1", wins.Load())
	}
}

func testListDue(t *testing.T, s notification.Store) {
	ctx := context.Background()
	now := base.Add(time.Hour)

	normalOld := create(t, s, draft(t, notification.ChannelEmail, notification.PriorityNormal, base))
	normalNew := create(t, s, draft(t, notification.ChannelEmail, notification.PriorityNormal, base.Add(time.Minute)))
	urgent := create(t, s, draft(t, notification.ChannelEmail, notification.PriorityUrgent, base.Add(2*time.Minute)))

	future := create(t, s, draft(t, notification.ChannelEmail, notification.PriorityUrgent, base))
	later := now.Add(time.Hour)
	if _, err := s.Update(ctx, future.ID, notification.Patch{
		Status:      notification.Some(notification.StatusScheduled),
		ScheduledAt: notification.Some(&later),
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	inFlight := create(t, s, draft(t, notification.ChannelEmail, notification.PriorityUrgent, base))
	if _, err := s.Update(ctx, inFlight.ID, notification.Patch{Status: notification.Some(notification.StatusInFlight)}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	due, err := s.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	want := []id.ID{urgent.ID, normalOld.ID, normalNew.ID}
	if len(due) != len(want) {
		t.Fatalf("ListDue returned %d, want %d", len(due), len(want))
	}
	for i, w := range want {
		if due[i].ID != w {
			t.Errorf("due[%d] = %s (%s), want %s", i, due[i].ID, due[i].Priority, w)
		}
	}

	limited, err := s.ListDue(ctx, now, 1)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != urgent.ID {
		t.Errorf("limit 1 should return the urgent item")
	}

	// Once the clock passes scheduled_at the future item becomes due.
	due, err = s.ListDue(ctx, later, 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 4 {
		t.Errorf("after scheduled_at passed: %d due, want 4", len(due))
	}
}

func testListStale(t *testing.T, s notification.Store) {
	ctx := context.Background()
	old := base.Add(-time.Hour)
	recent := base

	stale := create(t, s, draft(t, notification.ChannelSMS, notification.PriorityNormal, base))
	fresh := create(t, s, draft(t, notification.ChannelSMS, notification.PriorityNormal, base))
	for _, c := range []struct {
		n  *notification.Notification
		at *time.Time
	}{{stale, &old}, {fresh, &recent}} {
		if _, err := s.Update(ctx, c.n.ID, notification.Patch{
			Status:    notification.Some(notification.StatusInFlight),
			ClaimedAt: notification.Some(c.at),
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	got, err := s.ListStale(ctx, base.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("ListStale returned %d items", len(got))
	}
}

func testCountByStatus(t *testing.T, s notification.Store) {
	ctx := context.Background()
	create(t, s, draft(t, notification.ChannelEmail, notification.PriorityNormal, base))
	create(t, s, draft(t, notification.ChannelEmail, notification.PriorityNormal, base))
	failed := create(t, s, draft(t, notification.ChannelEmail, notification.PriorityNormal, base))
	if _, err := s.Update(ctx, failed.ID, notification.Patch{Status: notification.Some(notification.StatusFailed)}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[notification.StatusPending] != 2 || counts[notification.StatusFailed] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
