// Package backoff computes the delay imposed before a transient delivery
// failure is retried. Strategies are safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure, i.e. the
	// notification's retry_count after increment.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Jittered exponential
// ──────────────────────────────────────────────────

// Jittered grows exponentially with additive jitter:
//
//	Delay(n) = min(min(Base * 2^n, Max) + U[0, Base), Max)
//
// The jitter spreads out retries that failed together. The whole delay,
// jitter included, never exceeds Max. Two strategies built with the same
// seed produce the same sequence of delays.
type Jittered struct {
	Base time.Duration
	Max  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJittered creates a jittered exponential strategy seeded with seed.
func NewJittered(base, maxDelay time.Duration, seed uint64) *Jittered {
	return &Jittered{
		Base: base,
		Max:  maxDelay,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), //nolint:gosec // jitter intentionally uses non-crypto rand
	}
}

// Delay returns the jittered exponential delay for attempt n.
func (j *Jittered) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := exp2(j.Base, attempt, j.Max)
	if j.Base > 0 {
		j.mu.Lock()
		d = addSaturating(d, time.Duration(j.rng.Int64N(int64(j.Base))))
		j.mu.Unlock()
	}

	if j.Max > 0 && d > j.Max {
		return j.Max
	}
	return d
}

// Ceiling returns the largest delay the strategy can produce for attempt n.
func (j *Jittered) Ceiling(attempt int) time.Duration {
	d := addSaturating(exp2(j.Base, attempt, j.Max), j.Base)
	if j.Max > 0 && d > j.Max {
		return j.Max
	}
	return d
}

// addSaturating returns a+b for non-negative durations, stopping at the
// largest Duration instead of wrapping.
func addSaturating(a, b time.Duration) time.Duration {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// exp2 returns base * 2^n saturated at limit (or at the largest Duration
// when limit is zero).
func exp2(base time.Duration, n int, limit time.Duration) time.Duration {
	ceiling := limit
	if ceiling <= 0 {
		ceiling = math.MaxInt64
	}
	d := base
	for range n {
		if d > ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the engine: jittered
// exponential with a 1s base and a 1h cap, seeded from the runtime source.
func DefaultStrategy() Strategy {
	return NewJittered(time.Second, time.Hour, rand.Uint64()) //nolint:gosec // seed only
}
