package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/xraph/notifier/id"
)

type delayedHeap []*Item

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool {
	a, b := h[i].releaseAt(), h[j].releaseAt()
	if !a.Equal(b) {
		return a.Before(b)
	}
	return h[i].seq < h[j].seq
}

// releaseAt is when the item may leave the delayed set.
func (it *Item) releaseAt() time.Time {
	if it.NotBefore.After(it.DueAt) {
		return it.NotBefore
	}
	return it.DueAt
}

func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	it := x.(*Item) //nolint:errcheck // heap only holds *Item
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Delayed holds not-yet-due items ordered by due time. Adding an ID that
// is already present replaces its entry. It is safe for concurrent use.
type Delayed struct {
	mu    sync.Mutex
	items delayedHeap
	byID  map[id.ID]*Item
	seq   uint64
}

// NewDelayed creates an empty delayed set.
func NewDelayed() *Delayed {
	return &Delayed{byID: make(map[id.ID]*Item)}
}

// Add inserts or replaces it.
func (d *Delayed) Add(it Item) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.byID[it.ID]; ok {
		existing.Priority = it.Priority
		existing.DueAt = it.DueAt
		existing.Channel = it.Channel
		existing.Recipient = it.Recipient
		existing.NotBefore = it.NotBefore
		heap.Fix(&d.items, existing.index)
		return
	}

	d.seq++
	item := it
	item.seq = d.seq
	heap.Push(&d.items, &item)
	d.byID[it.ID] = &item
}

// PopDue removes and returns every item releasable at or before now,
// earliest first.
func (d *Delayed) PopDue(now time.Time) []Item {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Item
	for d.items.Len() > 0 && !d.items[0].releaseAt().After(now) {
		it := heap.Pop(&d.items).(*Item) //nolint:errcheck // heap only holds *Item
		delete(d.byID, it.ID)
		it.NotBefore = time.Time{}
		out = append(out, *it)
	}
	return out
}

// Next returns the earliest release time.
func (d *Delayed) Next() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.items.Len() == 0 {
		return time.Time{}, false
	}
	return d.items[0].releaseAt(), true
}

// Remove drops nid. It reports whether it was present.
func (d *Delayed) Remove(nid id.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	it, ok := d.byID[nid]
	if !ok {
		return false
	}
	heap.Remove(&d.items, it.index)
	delete(d.byID, nid)
	return true
}

// Len returns the number of delayed items.
func (d *Delayed) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.items.Len()
}
