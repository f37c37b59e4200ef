// Package queue holds the in-memory structures that feed dispatch workers:
// the shared ready queue, the delayed set of not-yet-due notifications, and
// the per-channel rate and concurrency gate.
//
// # Ready queue
//
// [Ready] orders items by priority (urgent first), then due time, then
// insertion order. Pop leases the item to the caller; the same ID cannot
// be pushed or popped again until Done releases the lease, so one
// notification is never handed to two workers.
//
//	q := queue.NewReady()
//	q.Push(queue.ItemFor(n))
//	it, err := q.Pop(ctx)
//	defer q.Done(it.ID)
//
// # Delayed set
//
// [Delayed] holds items whose scheduled_at is in the future. The scheduler
// moves them into the ready queue as its clock passes their due time.
//
// # Manager
//
// [Manager] enforces per-channel limits and an optional per-recipient rate
// at claim time. It uses a token-bucket rate limiter (golang.org/x/time/rate)
// and an active-count gate for concurrency limits.
//
//	m := queue.NewManager(queue.Limit{Channel: "sms", RateLimit: 5, MaxConcurrency: 2})
//	if m.Acquire(n.Channel, n.Recipient) {
//	    defer m.Release(n.Channel, n.Recipient)
//	    // dispatch
//	}
//
// Channels without a [Limit] have no limits beyond the pool size.
package queue
