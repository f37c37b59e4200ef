package notification

import (
	"maps"
	"time"

	"github.com/xraph/notifier"
)

// Field is an optional value in a Patch. Only fields with Set are written.
type Field[T any] struct {
	Set   bool
	Value T
}

// Some returns a set Field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Patch is an explicit, targeted update. Stores write only the set fields
// plus updated_at and version, never the whole record.
type Patch struct {
	Status       Field[Status]
	Subject      Field[string]
	Message      Field[string]
	Priority     Field[Priority]
	ScheduledAt  Field[*time.Time]
	Metadata     Field[map[string]any]
	SentAt       Field[*time.Time]
	RetryCount   Field[int]
	ErrorMessage Field[string]

	AttemptToken    Field[string]
	WorkerID        Field[string]
	ClaimedAt       Field[*time.Time]
	CancelRequested Field[bool]

	// UpdatedAt stamps the write. The store uses its own clock when zero.
	UpdatedAt time.Time
}

// Field names used by Visit. They double as document keys and column names.
const (
	FieldStatus          = "status"
	FieldSubject         = "subject"
	FieldMessage         = "message"
	FieldPriority        = "priority"
	FieldScheduledAt     = "scheduled_at"
	FieldMetadata        = "metadata"
	FieldSentAt          = "sent_at"
	FieldRetryCount      = "retry_count"
	FieldErrorMessage    = "error_message"
	FieldAttemptToken    = "attempt_token"
	FieldWorkerID        = "worker_id"
	FieldClaimedAt       = "claimed_at"
	FieldCancelRequested = "cancel_requested"
)

// IsEmpty reports whether no field is set.
func (p Patch) IsEmpty() bool {
	empty := true
	p.Visit(func(string, any) { empty = false })
	return empty
}

// HasContent reports whether the patch edits caller-owned content, as
// opposed to dispatch bookkeeping.
func (p Patch) HasContent() bool {
	return p.Subject.Set || p.Message.Set || p.Priority.Set || p.ScheduledAt.Set || p.Metadata.Set
}

// Validate checks the caller-editable fields.
func (p Patch) Validate() error {
	if p.Status.Set && !p.Status.Value.IsValid() {
		return notifier.NewValidationError("status", "unknown status")
	}
	if p.Subject.Set {
		if err := validateSubject(p.Subject.Value); err != nil {
			return err
		}
	}
	if p.Message.Set {
		if err := validateMessage(p.Message.Value); err != nil {
			return err
		}
	}
	if p.Priority.Set && !p.Priority.Value.IsValid() {
		return notifier.NewValidationError("priority", "must be one of low, normal, high, urgent")
	}
	return nil
}

// Visit calls fn for every set field with its canonical name and a
// store-neutral value: enums as strings, optional times as *time.Time.
func (p Patch) Visit(fn func(name string, value any)) {
	if p.Status.Set {
		fn(FieldStatus, string(p.Status.Value))
	}
	if p.Subject.Set {
		fn(FieldSubject, p.Subject.Value)
	}
	if p.Message.Set {
		fn(FieldMessage, p.Message.Value)
	}
	if p.Priority.Set {
		fn(FieldPriority, string(p.Priority.Value))
	}
	if p.ScheduledAt.Set {
		fn(FieldScheduledAt, p.ScheduledAt.Value)
	}
	if p.Metadata.Set {
		fn(FieldMetadata, p.Metadata.Value)
	}
	if p.SentAt.Set {
		fn(FieldSentAt, p.SentAt.Value)
	}
	if p.RetryCount.Set {
		fn(FieldRetryCount, p.RetryCount.Value)
	}
	if p.ErrorMessage.Set {
		fn(FieldErrorMessage, p.ErrorMessage.Value)
	}
	if p.AttemptToken.Set {
		fn(FieldAttemptToken, p.AttemptToken.Value)
	}
	if p.WorkerID.Set {
		fn(FieldWorkerID, p.WorkerID.Value)
	}
	if p.ClaimedAt.Set {
		fn(FieldClaimedAt, p.ClaimedAt.Value)
	}
	if p.CancelRequested.Set {
		fn(FieldCancelRequested, p.CancelRequested.Value)
	}
}

// Apply writes the set fields onto n, advances UpdatedAt and bumps Version.
func (p Patch) Apply(n *Notification, now time.Time) {
	if p.Status.Set {
		n.Status = p.Status.Value
	}
	if p.Subject.Set {
		n.Subject = p.Subject.Value
	}
	if p.Message.Set {
		n.Message = p.Message.Value
	}
	if p.Priority.Set {
		n.Priority = p.Priority.Value
	}
	if p.ScheduledAt.Set {
		n.ScheduledAt = utcPtr(p.ScheduledAt.Value)
	}
	if p.Metadata.Set {
		n.Metadata = maps.Clone(p.Metadata.Value)
	}
	if p.SentAt.Set {
		n.SentAt = utcPtr(p.SentAt.Value)
	}
	if p.RetryCount.Set {
		n.RetryCount = p.RetryCount.Value
	}
	if p.ErrorMessage.Set {
		n.ErrorMessage = p.ErrorMessage.Value
	}
	if p.AttemptToken.Set {
		n.AttemptToken = p.AttemptToken.Value
	}
	if p.WorkerID.Set {
		n.WorkerID = p.WorkerID.Value
	}
	if p.ClaimedAt.Set {
		n.ClaimedAt = utcPtr(p.ClaimedAt.Value)
	}
	if p.CancelRequested.Set {
		n.CancelRequested = p.CancelRequested.Value
	}

	at := p.UpdatedAt
	if at.IsZero() {
		at = now
	}
	n.Touch(at)
	n.Version++
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
