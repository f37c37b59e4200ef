package notification

import (
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
)

const (
	// DefaultMaxRetries applies when a draft leaves MaxRetries unset.
	DefaultMaxRetries = 3
	// MaxRetriesLimit is the largest accepted MaxRetries.
	MaxRetriesLimit = 10
	// SubjectMaxLen is the maximum subject length in characters.
	SubjectMaxLen = 200
)

// Notification is a single message to one recipient over one channel.
type Notification struct {
	notifier.Entity

	ID           id.ID          `json:"id"`
	Channel      Channel        `json:"channel"`
	Recipient    string         `json:"recipient"`
	Subject      string         `json:"subject,omitempty"`
	Message      string         `json:"message"`
	Priority     Priority       `json:"priority"`
	Status       Status         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	ScheduledAt  *time.Time     `json:"scheduled_at,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	ErrorMessage string         `json:"error_message,omitempty"`

	// Version is bumped on every mutation and is the compare-and-swap token.
	Version int64 `json:"version"`

	// AttemptToken identifies the current in-flight attempt. Only the
	// worker holding the token may resolve it.
	AttemptToken    string     `json:"-"`
	WorkerID        string     `json:"worker_id,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
}

// DueAt is the time the notification becomes eligible: scheduled_at when
// set, created_at otherwise.
func (n *Notification) DueAt() time.Time {
	if n.ScheduledAt != nil {
		return *n.ScheduledAt
	}
	return n.CreatedAt
}

// IsDue reports whether scheduled_at is absent or not after now.
func (n *Notification) IsDue(now time.Time) bool {
	return n.ScheduledAt == nil || !n.ScheduledAt.After(now)
}

// Eligible reports whether the scheduler may hand n to a worker at now.
func (n *Notification) Eligible(now time.Time) bool {
	return n.Status.IsQueued() && n.IsDue(now)
}

// Clone returns a copy that shares no mutable state with n.
func (n *Notification) Clone() *Notification {
	cp := *n
	cp.Metadata = maps.Clone(n.Metadata)
	cp.ScheduledAt = cloneTime(n.ScheduledAt)
	cp.SentAt = cloneTime(n.SentAt)
	cp.ClaimedAt = cloneTime(n.ClaimedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Draft is the caller-supplied input for creating a notification.
type Draft struct {
	Channel     Channel
	Recipient   string
	Subject     string
	Message     string
	Priority    Priority
	Metadata    map[string]any
	ScheduledAt *time.Time
	// MaxRetries defaults to DefaultMaxRetries when nil.
	MaxRetries *int
}

// Build validates the draft and returns a new pending notification stamped
// with now. The ID and Version are assigned by the store on Create.
func (d Draft) Build(now time.Time) (*Notification, error) {
	if !d.Channel.IsValid() {
		return nil, notifier.NewValidationError("channel", "must be one of email, sms, push, webhook, slack, telegram")
	}

	recipient := strings.TrimSpace(d.Recipient)
	if recipient == "" {
		return nil, notifier.NewValidationError("recipient", "Recipient cannot be empty")
	}

	if err := validateSubject(d.Subject); err != nil {
		return nil, err
	}
	if err := validateMessage(d.Message); err != nil {
		return nil, err
	}

	priority := d.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.IsValid() {
		return nil, notifier.NewValidationError("priority", "must be one of low, normal, high, urgent")
	}

	maxRetries := DefaultMaxRetries
	if d.MaxRetries != nil {
		maxRetries = *d.MaxRetries
	}
	if maxRetries < 0 || maxRetries > MaxRetriesLimit {
		return nil, notifier.NewValidationError("max_retries", "must be between 0 and 10")
	}

	metadata := maps.Clone(d.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}

	var scheduledAt *time.Time
	if d.ScheduledAt != nil {
		t := d.ScheduledAt.UTC()
		scheduledAt = &t
	}

	return &Notification{
		Entity:      notifier.NewEntity(now),
		Channel:     d.Channel,
		Recipient:   recipient,
		Subject:     d.Subject,
		Message:     d.Message,
		Priority:    priority,
		Status:      StatusPending,
		Metadata:    metadata,
		ScheduledAt: scheduledAt,
		MaxRetries:  maxRetries,
	}, nil
}

func validateSubject(s string) error {
	if utf8.RuneCountInString(s) > SubjectMaxLen {
		return notifier.NewValidationError("subject", "must be at most 200 characters")
	}
	return nil
}

func validateMessage(s string) error {
	if s == "" {
		return notifier.NewValidationError("message", "must not be empty")
	}
	return nil
}
