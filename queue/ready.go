package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// ErrClosed is returned by Pop after Close once the queue is drained.
var ErrClosed = errors.New("queue: closed")

// Item is the scheduling view of a notification.
type Item struct {
	ID        id.ID
	Priority  notification.Priority
	DueAt     time.Time
	Channel   notification.Channel
	Recipient string

	// NotBefore holds an item in the delayed set past its DueAt, e.g.
	// after a rate-limited claim. It does not affect ready ordering.
	NotBefore time.Time

	seq   uint64
	index int
}

// ItemFor builds the queue item for n.
func ItemFor(n *notification.Notification) Item {
	return Item{
		ID:        n.ID,
		Priority:  n.Priority,
		DueAt:     n.DueAt(),
		Channel:   n.Channel,
		Recipient: n.Recipient,
	}
}

// readyHeap orders by priority desc, due asc, seq asc.
type readyHeap []*Item

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.DueAt.Equal(b.DueAt) {
		return a.DueAt.Before(b.DueAt)
	}
	return a.seq < b.seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	it := x.(*Item) //nolint:errcheck // heap only holds *Item
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Ready is the shared queue of dispatch-eligible notifications. It is safe
// for concurrent use by many producers and many consumers.
type Ready struct {
	mu     sync.Mutex
	items  readyHeap
	queued map[id.ID]*Item
	leased map[id.ID]struct{}
	seq    uint64
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewReady creates an empty ready queue.
func NewReady() *Ready {
	return &Ready{
		queued: make(map[id.ID]*Item),
		leased: make(map[id.ID]struct{}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push enqueues it. It returns false when the ID is already queued or
// currently leased to a worker; a queued duplicate with a higher priority
// or earlier due time upgrades the existing entry in place.
func (q *Ready) Push(it Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.leased[it.ID]; ok {
		return false
	}
	if existing, ok := q.queued[it.ID]; ok {
		if it.Priority.Rank() > existing.Priority.Rank() || it.DueAt.Before(existing.DueAt) {
			existing.Priority = it.Priority
			existing.DueAt = it.DueAt
			heap.Fix(&q.items, existing.index)
		}
		return false
	}

	q.seq++
	item := it
	item.seq = q.seq
	heap.Push(&q.items, &item)
	q.queued[it.ID] = &item
	q.signal()
	return true
}

// Pop blocks until an item is available, ctx is done, or the queue is
// closed. The returned item is leased until Done is called with its ID.
func (q *Ready) Pop(ctx context.Context) (Item, error) {
	for {
		if it, ok := q.TryPop(); ok {
			return it, nil
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Item{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-q.done:
		case <-q.wake:
		}
	}
}

// TryPop pops and leases the head item without blocking.
func (q *Ready) TryPop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return Item{}, false
	}
	it := heap.Pop(&q.items).(*Item) //nolint:errcheck // heap only holds *Item
	delete(q.queued, it.ID)
	q.leased[it.ID] = struct{}{}

	// Pass the wake-up on so other waiters see the remaining items.
	if q.items.Len() > 0 {
		q.signal()
	}
	return *it, true
}

// Done releases the lease on nid.
func (q *Ready) Done(nid id.ID) {
	q.mu.Lock()
	delete(q.leased, nid)
	q.mu.Unlock()
}

// Remove drops a queued (not leased) item. It reports whether it was found.
func (q *Ready) Remove(nid id.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.queued[nid]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.queued, nid)
	return true
}

// Contains reports whether nid is queued or leased.
func (q *Ready) Contains(nid id.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, queued := q.queued[nid]
	_, leased := q.leased[nid]
	return queued || leased
}

// IsLeased reports whether nid is currently leased to a worker.
func (q *Ready) IsLeased(nid id.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.leased[nid]
	return ok
}

// Len returns the number of queued items, excluding leased ones.
func (q *Ready) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Leased returns the number of items currently leased.
func (q *Ready) Leased() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.leased)
}

// Close wakes all waiters. Pop keeps returning queued items and then
// ErrClosed; Push is rejected.
func (q *Ready) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Ready) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
