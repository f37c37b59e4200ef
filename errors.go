package notifier

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("notifier: no store configured")
	ErrStoreClosed     = errors.New("notifier: store closed")
	ErrMigrationFailed = errors.New("notifier: migration failed")

	// ErrNotFound is returned when no notification matches the given ID.
	ErrNotFound = errors.New("notifier: notification not found")

	// ErrConflict is returned by compare-and-swap writes whose expected
	// version no longer matches the stored record.
	ErrConflict = errors.New("notifier: concurrency conflict")

	// State errors.
	ErrInvalidTransition = errors.New("notifier: invalid status transition")
	ErrNotEditable       = errors.New("notifier: notification is no longer editable")
	ErrExhaustedRetries  = errors.New("notifier: retries exhausted")

	// ErrEmptyPatch is returned when an update carries no fields.
	ErrEmptyPatch = errors.New("notifier: no fields to update")
)

// ValidationError reports malformed input. It is returned synchronously and
// the offending notification is never enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("notifier: invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
