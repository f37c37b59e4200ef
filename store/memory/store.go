// Package memory provides an in-memory notification store. It is safe for
// concurrent access and intended for unit testing and development.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// Ensure Store implements notification.Store at compile time.
var _ notification.Store = (*Store)(nil)

// Store is a fully in-memory implementation of notification.Store. Every
// read returns a copy so callers can mutate without racing with the store.
type Store struct {
	mu            sync.RWMutex
	notifications map[id.ID]*notification.Notification
	closed        bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		notifications: make(map[id.ID]*notification.Notification),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return notifier.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is kept so tests can inspect it.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// CRUD
// ──────────────────────────────────────────────────

// Create persists a new notification.
func (m *Store) Create(_ context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID.IsNil() {
		n.ID = id.New()
	}
	if n.CreatedAt.IsZero() {
		n.Entity = notifier.NewEntity(time.Now())
	}
	n.Version = 1

	m.notifications[n.ID] = n.Clone()
	return nil
}

// Get retrieves a notification by ID.
func (m *Store) Get(_ context.Context, nid id.ID) (*notification.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notifications[nid]
	if !ok {
		return nil, notifier.ErrNotFound
	}
	return n.Clone(), nil
}

// List returns one page ordered by created_at descending.
func (m *Store) List(_ context.Context, opts notification.ListOpts) ([]*notification.Notification, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*notification.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if opts.Status != "" && n.Status != opts.Status {
			continue
		}
		if opts.Channel != "" && n.Channel != opts.Channel {
			continue
		}
		matched = append(matched, n)
	}

	slices.SortFunc(matched, func(a, b *notification.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return compareID(b.ID, a.ID)
	})

	total := int64(len(matched))
	start := min(opts.Offset(), len(matched))
	end := len(matched)
	if opts.PageSize > 0 {
		end = min(start+opts.PageSize, len(matched))
	}

	out := make([]*notification.Notification, 0, end-start)
	for _, n := range matched[start:end] {
		out = append(out, n.Clone())
	}
	return out, total, nil
}

// Update applies p unconditionally.
func (m *Store) Update(_ context.Context, nid id.ID, p notification.Patch) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[nid]
	if !ok {
		return nil, notifier.ErrNotFound
	}
	p.Apply(n, time.Now())
	return n.Clone(), nil
}

// Delete removes a notification.
func (m *Store) Delete(_ context.Context, nid id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notifications[nid]; !ok {
		return notifier.ErrNotFound
	}
	delete(m.notifications, nid)
	return nil
}

// CompareAndSwap applies p only if the stored version matches.
func (m *Store) CompareAndSwap(_ context.Context, nid id.ID, expectedVersion int64, p notification.Patch) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[nid]
	if !ok {
		return nil, notifier.ErrNotFound
	}
	if n.Version != expectedVersion {
		return nil, notifier.ErrConflict
	}
	p.Apply(n, time.Now())
	return n.Clone(), nil
}

// ──────────────────────────────────────────────────
// Dispatch queries
// ──────────────────────────────────────────────────

// ListDue returns due pending/scheduled notifications in dispatch order.
func (m *Store) ListDue(_ context.Context, now time.Time, limit int) ([]*notification.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*notification.Notification, 0)
	for _, n := range m.notifications {
		if n.Eligible(now) {
			due = append(due, n)
		}
	}
	slices.SortFunc(due, notification.CompareDue)

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*notification.Notification, len(due))
	for i, n := range due {
		out[i] = n.Clone()
	}
	return out, nil
}

// ListStale returns in_flight notifications claimed before the given time.
func (m *Store) ListStale(_ context.Context, before time.Time, limit int) ([]*notification.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*notification.Notification
	for _, n := range m.notifications {
		if n.Status != notification.StatusInFlight || n.ClaimedAt == nil || !n.ClaimedAt.Before(before) {
			continue
		}
		out = append(out, n.Clone())
	}
	slices.SortFunc(out, func(a, b *notification.Notification) int {
		return a.ClaimedAt.Compare(*b.ClaimedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus returns the number of notifications per status.
func (m *Store) CountByStatus(_ context.Context) (map[notification.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[notification.Status]int64)
	for _, n := range m.notifications {
		counts[n.Status]++
	}
	return counts, nil
}

func compareID(a, b id.ID) int {
	switch as, bs := a.String(), b.String(); {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
