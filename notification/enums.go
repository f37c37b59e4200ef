package notification

import "fmt"

// Channel is the delivery medium of a notification.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelPush     Channel = "push"
	ChannelWebhook  Channel = "webhook"
	ChannelSlack    Channel = "slack"
	ChannelTelegram Channel = "telegram"
)

// Channels lists every supported channel.
var Channels = []Channel{
	ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook, ChannelSlack, ChannelTelegram,
}

// IsValid reports whether c is a known channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook, ChannelSlack, ChannelTelegram:
		return true
	default:
		return false
	}
}

// ParseChannel parses a channel name.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

// Priority orders notifications inside the ready queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank maps the priority onto its total order: urgent > high > normal > low.
// Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool { return p.Rank() >= 0 }

// ParsePriority parses a priority name.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Status is the dispatch state of a notification.
type Status string

const (
	// StatusPending means the notification was created and awaits its first attempt.
	StatusPending Status = "pending"
	// StatusScheduled means the notification waits for scheduled_at, either
	// because it was created future-dated or because a retry was scheduled.
	StatusScheduled Status = "scheduled"
	// StatusInFlight means exactly one worker currently owns an attempt.
	StatusInFlight Status = "in_flight"
	// StatusSent means the channel accepted the notification.
	StatusSent Status = "sent"
	// StatusFailed means delivery failed permanently or retries ran out.
	StatusFailed Status = "failed"
	// StatusCancelled means an external cancel request was honoured.
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending, StatusScheduled, StatusInFlight, StatusSent, StatusFailed, StatusCancelled,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusInFlight, StatusSent, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s has no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled:
		return true
	case StatusPending, StatusScheduled, StatusInFlight:
		return false
	default:
		return false
	}
}

// IsQueued reports whether s is eligible for dispatch once due.
func (s Status) IsQueued() bool {
	return s == StatusPending || s == StatusScheduled
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusScheduled || to == StatusInFlight || to == StatusCancelled
	case StatusScheduled:
		return to == StatusInFlight || to == StatusCancelled
	case StatusInFlight:
		return to == StatusSent || to == StatusFailed || to == StatusScheduled || to == StatusCancelled
	case StatusSent, StatusFailed, StatusCancelled:
		return false
	default:
		return false
	}
}
