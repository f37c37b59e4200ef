// Package channel defines the delivery contract every channel adapter
// implements, the outcome taxonomy the retry policy consumes, the
// per-channel failure classification table, and the adapter registry.
//
// Adapters perform exactly one external delivery attempt per Send call and
// never retry internally.
package channel

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies the result of one dispatch attempt.
type Kind int

const (
	// KindDelivered means the channel accepted the notification.
	KindDelivered Kind = iota + 1
	// KindTransient means the attempt may succeed if retried later.
	KindTransient
	// KindPermanent means retrying cannot help.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindDelivered:
		return "delivered"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is what Send reports for one attempt.
type Outcome struct {
	Kind   Kind
	Reason string
}

// Delivered reports a successful delivery.
func Delivered() Outcome { return Outcome{Kind: KindDelivered} }

// Transient reports a retryable failure.
func Transient(reason string) Outcome { return Outcome{Kind: KindTransient, Reason: reason} }

// Permanent reports a terminal failure.
func Permanent(reason string) Outcome { return Outcome{Kind: KindPermanent, Reason: reason} }

// Transientf is Transient with formatting.
func Transientf(format string, args ...any) Outcome {
	return Transient(fmt.Sprintf(format, args...))
}

// Permanentf is Permanent with formatting.
func Permanentf(format string, args ...any) Outcome {
	return Permanent(fmt.Sprintf(format, args...))
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Kind.String()
	}
	return o.Kind.String() + ": " + o.Reason
}

// ──────────────────────────────────────────────────
// Error taxonomy
// ──────────────────────────────────────────────────

// PermanentError marks an error that must not be retried.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// TransientError marks an error that may be retried.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// MarkPermanent wraps err as a PermanentError.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// MarkTransient wraps err as a TransientError.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Classify maps an error onto an Outcome. nil is Delivered, a
// PermanentError is Permanent, and everything else, including unknown
// errors and deadline expiry, is Transient.
func Classify(err error) Outcome {
	if err == nil {
		return Delivered()
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return Permanent(err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient("attempt timed out")
	}
	return Transient(err.Error())
}
