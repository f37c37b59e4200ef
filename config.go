package notifier

import (
	"fmt"
	"time"
)

// Config holds configuration for the Notifier.
type Config struct {
	// Concurrency is the number of dispatch workers.
	Concurrency int

	// SweepSchedule is the cron expression driving the durable sweep of due
	// notifications from the store. Accepts the robfig/cron descriptor
	// syntax, e.g. "@every 1s".
	SweepSchedule string

	// SweepBatchSize caps how many due notifications one sweep loads.
	SweepBatchSize int

	// TickInterval bounds how long a due item can wait in the delayed set
	// before being promoted to the ready queue.
	TickInterval time.Duration

	// AttemptTimeout is the hard deadline for one adapter call when the
	// channel has no entry in ChannelTimeouts.
	AttemptTimeout time.Duration

	// ChannelTimeouts overrides AttemptTimeout per channel name.
	ChannelTimeouts map[string]time.Duration

	// StaleAttemptThreshold is how long a notification may stay in_flight
	// before it is treated as abandoned and reconciled as a transient
	// failure. Zero disables the reaper.
	StaleAttemptThreshold time.Duration

	// ReaperInterval is how often abandoned attempts are looked for.
	ReaperInterval time.Duration

	// MaxReconcileAttempts bounds how often the reconciler re-reads and
	// recomputes when its compare-and-swap loses to a non-conflicting
	// write such as a cancel request.
	MaxReconcileAttempts int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:           10,
		SweepSchedule:         "@every 1s",
		SweepBatchSize:        100,
		TickInterval:          100 * time.Millisecond,
		AttemptTimeout:        30 * time.Second,
		ChannelTimeouts:       map[string]time.Duration{},
		StaleAttemptThreshold: 5 * time.Minute,
		ReaperInterval:        30 * time.Second,
		MaxReconcileAttempts:  3,
		ShutdownTimeout:       30 * time.Second,
	}
}

// TimeoutFor returns the attempt deadline for the named channel.
func (c Config) TimeoutFor(channel string) time.Duration {
	if d, ok := c.ChannelTimeouts[channel]; ok && d > 0 {
		return d
	}
	return c.AttemptTimeout
}

// Validate checks the settings the engine cannot run with. The stale
// threshold must exceed every attempt deadline, otherwise the reaper can
// reclaim an attempt that is still running.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return NewValidationError("concurrency", "must be at least 1")
	}
	if c.AttemptTimeout <= 0 {
		return NewValidationError("attempt_timeout", "must be positive")
	}

	longest := c.AttemptTimeout
	for ch, d := range c.ChannelTimeouts {
		if d < 0 {
			return NewValidationError("channel_timeouts", ch+" must not be negative")
		}
		if d > longest {
			longest = d
		}
	}

	if c.StaleAttemptThreshold < 0 {
		return NewValidationError("stale_attempt_threshold", "must not be negative")
	}
	if c.StaleAttemptThreshold > 0 && c.StaleAttemptThreshold <= longest {
		return NewValidationError("stale_attempt_threshold",
			fmt.Sprintf("must exceed the longest attempt timeout (%s)", longest))
	}
	return nil
}
