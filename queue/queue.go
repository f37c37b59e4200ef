package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/notifier/notification"
)

// Limit defines per-channel rate limiting and concurrency.
type Limit struct {
	// Channel is the channel this limit applies to.
	Channel notification.Channel

	// MaxConcurrency limits how many attempts on this channel may run at
	// once across the local worker pool. Zero means no channel limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained attempts per second on this
	// channel. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// RecipientRateLimit caps attempts per second to any single recipient
	// on this channel. Zero disables it.
	RecipientRateLimit float64

	// RecipientRateBurst is the burst size for each recipient limiter.
	RecipientRateBurst int
}

// channelState tracks runtime state for a single channel.
type channelState struct {
	limit      Limit
	limiter    *rate.Limiter
	active     int
	recipients map[string]*rate.Limiter
}

// Manager controls per-channel rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	channels map[notification.Channel]*channelState
}

// NewManager creates a Manager with the given limits. Channels not listed
// here have no limits.
func NewManager(limits ...Limit) *Manager {
	m := &Manager{
		channels: make(map[notification.Channel]*channelState, len(limits)),
	}
	for _, l := range limits {
		m.channels[l.Channel] = newChannelState(l)
	}
	return m
}

func newLimiter(r float64, burst int) *rate.Limiter {
	if r <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r), burst)
}

func newChannelState(l Limit) *channelState {
	return &channelState{
		limit:      l,
		limiter:    newLimiter(l.RateLimit, l.RateBurst),
		recipients: make(map[string]*rate.Limiter),
	}
}

// Acquire checks the channel's limits for one attempt to recipient. If the
// attempt may proceed it increments the active counter and returns true.
// The caller MUST call Release when the attempt completes.
func (m *Manager) Acquire(ch notification.Channel, recipient string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.channels[ch]
	if cs == nil {
		return true
	}

	if cs.limit.MaxConcurrency > 0 && cs.active >= cs.limit.MaxConcurrency {
		return false
	}

	var rl *rate.Limiter
	if cs.limit.RecipientRateLimit > 0 {
		rl = cs.recipients[recipient]
		if rl == nil {
			rl = newLimiter(cs.limit.RecipientRateLimit, cs.limit.RecipientRateBurst)
			cs.recipients[recipient] = rl
		}
		if rl.Tokens() < 1 {
			return false
		}
	}

	if cs.limiter != nil && !cs.limiter.Allow() {
		return false
	}
	if rl != nil {
		rl.Allow()
	}

	cs.active++
	return true
}

// Release decrements the active count for the channel.
func (m *Manager) Release(ch notification.Channel, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs := m.channels[ch]; cs != nil && cs.active > 0 {
		cs.active--
	}
}

// SetLimit dynamically updates (or creates) a channel limit.
func (m *Manager) SetLimit(l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.channels[l.Channel]
	cs := newChannelState(l)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		cs.active = existing.active
	}
	m.channels[l.Channel] = cs
}

// ActiveCount returns the current number of active attempts on a channel.
func (m *Manager) ActiveCount(ch notification.Channel) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs := m.channels[ch]; cs != nil {
		return cs.active
	}
	return 0
}
