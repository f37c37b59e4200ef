// Package retry turns the outcome of one dispatch attempt into the next
// transition of a notification. Policy.Decide is a pure function of its
// inputs and the backoff strategy.
package retry

import (
	"fmt"
	"time"

	"github.com/xraph/notifier/backoff"
	"github.com/xraph/notifier/channel"
)

// Action is what should happen to a notification after an attempt.
type Action int

const (
	// Succeed marks the notification sent.
	Succeed Action = iota + 1
	// Retry schedules another attempt after Delay.
	Retry
	// Fail marks the notification failed.
	Fail
)

func (a Action) String() string {
	switch a {
	case Succeed:
		return "succeed"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the result of Decide.
type Decision struct {
	Action Action
	// RetryCount is the notification's retry_count after this attempt.
	RetryCount int
	// Delay is the backoff before the next attempt. Only set for Retry.
	Delay time.Duration
	// Reason is the failure reason to persist as error_message.
	Reason string
	// Exhausted is true when a transient failure was turned into Fail
	// because no retries were left.
	Exhausted bool
}

// Policy decides retries using a backoff strategy.
type Policy struct {
	backoff backoff.Strategy
}

// NewPolicy creates a Policy. A nil strategy uses backoff.DefaultStrategy.
func NewPolicy(bo backoff.Strategy) *Policy {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	return &Policy{backoff: bo}
}

// Decide maps an outcome plus the notification's retry_count and
// max_retries onto a Decision:
//
//   - Delivered: Succeed.
//   - Transient with retry_count < max_retries: Retry with retry_count+1
//     and backoff(retry_count+1).
//   - Transient with retry_count >= max_retries: Fail, Exhausted.
//   - Permanent: Fail on first occurrence.
func (p *Policy) Decide(o channel.Outcome, retryCount, maxRetries int) Decision {
	switch o.Kind {
	case channel.KindDelivered:
		return Decision{Action: Succeed, RetryCount: retryCount}
	case channel.KindPermanent:
		return Decision{Action: Fail, RetryCount: retryCount, Reason: reasonOf(o)}
	case channel.KindTransient:
		if retryCount < maxRetries {
			next := retryCount + 1
			return Decision{
				Action:     Retry,
				RetryCount: next,
				Delay:      p.backoff.Delay(next),
				Reason:     reasonOf(o),
			}
		}
		return Decision{
			Action:     Fail,
			RetryCount: retryCount,
			Reason:     fmt.Sprintf("retries exhausted after %d attempts: %s", retryCount+1, reasonOf(o)),
			Exhausted:  true,
		}
	default:
		// Unknown kinds are treated like transient failures.
		return p.Decide(channel.Transient(o.Reason), retryCount, maxRetries)
	}
}

func reasonOf(o channel.Outcome) string {
	if o.Reason != "" {
		return o.Reason
	}
	return o.Kind.String() + " failure"
}
