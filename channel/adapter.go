package channel

import (
	"context"
	"sync"

	"github.com/xraph/notifier/notification"
)

// Adapter delivers notifications over one channel.
type Adapter interface {
	// Channel returns the channel this adapter serves.
	Channel() notification.Channel

	// Send performs exactly one delivery attempt. It must respect ctx and
	// classify every failure as transient or permanent.
	Send(ctx context.Context, n *notification.Notification) Outcome
}

// SendFunc is the signature of an adapter's Send method.
type SendFunc func(ctx context.Context, n *notification.Notification) Outcome

type funcAdapter struct {
	ch   notification.Channel
	send SendFunc
}

func (f *funcAdapter) Channel() notification.Channel { return f.ch }

func (f *funcAdapter) Send(ctx context.Context, n *notification.Notification) Outcome {
	return f.send(ctx, n)
}

// Func adapts a plain function into an Adapter for ch.
func Func(ch notification.Channel, send SendFunc) Adapter {
	return &funcAdapter{ch: ch, send: send}
}

// Registry maps channels to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[notification.Channel]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[notification.Channel]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Channel().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.Channel()] = a
	r.mu.Unlock()
}

// Get returns the adapter for ch.
func (r *Registry) Get(ch notification.Channel) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	return a, ok
}

// Channels returns the channels that have an adapter.
func (r *Registry) Channels() []notification.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]notification.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		out = append(out, ch)
	}
	return out
}

// Send routes n to its channel's adapter. A channel without an adapter is
// a permanent failure.
func (r *Registry) Send(ctx context.Context, n *notification.Notification) Outcome {
	a, ok := r.Get(n.Channel)
	if !ok {
		return Permanentf("unsupported channel %q", n.Channel)
	}
	return a.Send(ctx, n)
}
