package notification_test

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

var now = time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

// ──────────────────────────────────────────────────
// Enums
// ──────────────────────────────────────────────────

func TestPriorityRank_TotalOrder(t *testing.T) {
	order := []notification.Priority{
		notification.PriorityLow,
		notification.PriorityNormal,
		notification.PriorityHigh,
		notification.PriorityUrgent,
	}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if notification.Priority("critical").IsValid() {
		t.Error("unknown priority should be invalid")
	}
}

func TestParseEnums(t *testing.T) {
	for _, c := range notification.Channels {
		if _, err := notification.ParseChannel(string(c)); err != nil {
			t.Errorf("ParseChannel(%q): %v", c, err)
		}
	}
	if _, err := notification.ParseChannel("fax"); err == nil {
		t.Error("expected error for unknown channel")
	}
	if _, err := notification.ParseStatus("in_flight"); err != nil {
		t.Errorf("ParseStatus: %v", err)
	}
	if _, err := notification.ParseStatus("running"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[notification.Status][]notification.Status{
		notification.StatusPending:   {notification.StatusScheduled, notification.StatusInFlight, notification.StatusCancelled},
		notification.StatusScheduled: {notification.StatusInFlight, notification.StatusCancelled},
		notification.StatusInFlight:  {notification.StatusSent, notification.StatusFailed, notification.StatusScheduled, notification.StatusCancelled},
	}
	all := []notification.Status{
		notification.StatusPending, notification.StatusScheduled, notification.StatusInFlight,
		notification.StatusSent, notification.StatusFailed, notification.StatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := slices.Contains(allowed[from], to)
			if got := notification.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []notification.Status{notification.StatusSent, notification.StatusFailed, notification.StatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.IsQueued() {
			t.Errorf("%s should not be queued", s)
		}
	}
}

// ──────────────────────────────────────────────────
// Draft validation
// ──────────────────────────────────────────────────

func TestDraftBuild_Defaults(t *testing.T) {
	n, err := notification.Draft{
		Channel:   notification.ChannelEmail,
		Recipient: "  user@example.com  ",
		Message:   "Welcome",
	}.Build(now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n.Recipient != "user@example.com" {
		t.Errorf("Recipient = %q, want trimmed", n.Recipient)
	}
	if n.Priority != notification.PriorityNormal {
		t.Errorf("Priority = %q, want normal", n.Priority)
	}
	if n.MaxRetries != notification.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", n.MaxRetries, notification.DefaultMaxRetries)
	}
	if n.Status != notification.StatusPending {
		t.Errorf("Status = %q, want pending", n.Status)
	}
	if n.RetryCount != 0 || n.SentAt != nil {
		t.Error("new notification must start with zero retries and no sent_at")
	}
	if !n.CreatedAt.Equal(now) || !n.UpdatedAt.Equal(now) {
		t.Error("timestamps should equal now")
	}
	if n.Metadata == nil {
		t.Error("metadata should default to an empty map")
	}
}

func TestDraftBuild_Rejects(t *testing.T) {
	valid := func() notification.Draft {
		return notification.Draft{
			Channel:   notification.ChannelSMS,
			Recipient: "+15551234567",
			Message:   "hi",
		}
	}

	tests := []struct {
		name  string
		mut   func(*notification.Draft)
		field string
	}{
		{"empty recipient", func(d *notification.Draft) { d.Recipient = "   " }, "recipient"},
		{"unknown channel", func(d *notification.Draft) { d.Channel = "fax" }, "channel"},
		{"empty message", func(d *notification.Draft) { d.Message = "" }, "message"},
		{"long subject", func(d *notification.Draft) { d.Subject = strings.Repeat("x", 201) }, "subject"},
		{"bad priority", func(d *notification.Draft) { d.Priority = "critical" }, "priority"},
		{"negative retries", func(d *notification.Draft) { d.MaxRetries = intPtr(-1) }, "max_retries"},
		{"too many retries", func(d *notification.Draft) { d.MaxRetries = intPtr(11) }, "max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mut(&d)
			_, err := d.Build(now)
			var ve *notifier.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestDraftBuild_AcceptsBoundaries(t *testing.T) {
	_, err := notification.Draft{
		Channel:    notification.ChannelWebhook,
		Recipient:  "https://example.com/hook",
		Subject:    strings.Repeat("é", 200),
		Message:    "x",
		MaxRetries: intPtr(0),
	}.Build(now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Eligibility and ordering
// ──────────────────────────────────────────────────

func TestEligible(t *testing.T) {
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	tests := []struct {
		name   string
		status notification.Status
		at     *time.Time
		want   bool
	}{
		{"pending no schedule", notification.StatusPending, nil, true},
		{"pending past", notification.StatusPending, &past, true},
		{"pending exactly now", notification.StatusPending, &now, true},
		{"scheduled future", notification.StatusScheduled, &future, false},
		{"in flight", notification.StatusInFlight, nil, false},
		{"sent", notification.StatusSent, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &notification.Notification{Status: tt.status, ScheduledAt: tt.at}
			if got := n.Eligible(now); got != tt.want {
				t.Errorf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareDue(t *testing.T) {
	mk := func(p notification.Priority, created time.Time) *notification.Notification {
		return &notification.Notification{
			Entity:   notifier.NewEntity(created),
			ID:       id.New(),
			Priority: p,
		}
	}

	oldNormal := mk(notification.PriorityNormal, now.Add(-time.Hour))
	newNormal := mk(notification.PriorityNormal, now)
	urgent := mk(notification.PriorityUrgent, now)
	low := mk(notification.PriorityLow, now.Add(-2*time.Hour))

	got := []*notification.Notification{low, newNormal, urgent, oldNormal}
	slices.SortFunc(got, notification.CompareDue)

	want := []*notification.Notification{urgent, oldNormal, newNormal, low}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s/%s, want %s/%s", i, got[i].Priority, got[i].CreatedAt, want[i].Priority, want[i].CreatedAt)
		}
	}
}

// ──────────────────────────────────────────────────
// Patch
// ──────────────────────────────────────────────────

func TestPatch_EmptyAndVisit(t *testing.T) {
	if !(notification.Patch{}).IsEmpty() {
		t.Error("zero Patch should be empty")
	}

	p := notification.Patch{
		Status:   notification.Some(notification.StatusCancelled),
		Priority: notification.Some(notification.PriorityHigh),
	}
	if p.IsEmpty() {
		t.Fatal("patch with fields should not be empty")
	}

	seen := map[string]any{}
	p.Visit(func(name string, value any) { seen[name] = value })
	if len(seen) != 2 {
		t.Fatalf("visited %d fields, want 2", len(seen))
	}
	if seen[notification.FieldStatus] != "cancelled" {
		t.Errorf("status value = %v", seen[notification.FieldStatus])
	}
	if seen[notification.FieldPriority] != "high" {
		t.Errorf("priority value = %v", seen[notification.FieldPriority])
	}
}

func TestPatch_ApplyBumpsVersion(t *testing.T) {
	n := &notification.Notification{Entity: notifier.NewEntity(now), Version: 4, Subject: "old"}
	later := now.Add(time.Minute)

	notification.Patch{Subject: notification.Some("new"), UpdatedAt: later}.Apply(n, now)

	if n.Subject != "new" {
		t.Errorf("Subject = %q", n.Subject)
	}
	if n.Version != 5 {
		t.Errorf("Version = %d, want 5", n.Version)
	}
	if !n.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", n.UpdatedAt, later)
	}
}

func TestPatch_ClearScheduledAt(t *testing.T) {
	at := now.Add(time.Hour)
	n := &notification.Notification{ScheduledAt: &at}

	notification.Patch{ScheduledAt: notification.Some[*time.Time](nil)}.Apply(n, now)

	if n.ScheduledAt != nil {
		t.Error("expected scheduled_at cleared")
	}
}

func TestPatch_Validate(t *testing.T) {
	if err := (notification.Patch{Message: notification.Some("")}).Validate(); !notifier.IsValidation(err) {
		t.Errorf("empty message: got %v", err)
	}
	if err := (notification.Patch{Priority: notification.Some(notification.Priority("x"))}).Validate(); !notifier.IsValidation(err) {
		t.Errorf("bad priority: got %v", err)
	}
	if err := (notification.Patch{Subject: notification.Some("ok")}).Validate(); err != nil {
		t.Errorf("valid patch: %v", err)
	}
}

func TestListOpts_Normalize(t *testing.T) {
	o, err := notification.ListOpts{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if o.Page != 1 || o.PageSize != notification.DefaultPageSize {
		t.Errorf("defaults = %d/%d", o.Page, o.PageSize)
	}
	if _, err := (notification.ListOpts{PageSize: 101}).Normalize(); err == nil {
		t.Error("expected error for page_size 101")
	}
	if _, err := (notification.ListOpts{Page: -1}).Normalize(); err == nil {
		t.Error("expected error for page -1")
	}
	if got := (notification.ListOpts{Page: 3, PageSize: 10}).Offset(); got != 20 {
		t.Errorf("Offset = %d, want 20", got)
	}
}
