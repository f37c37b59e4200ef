package notification

import (
	"context"
	"time"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
)

const (
	// DefaultPageSize is used when ListOpts.PageSize is zero.
	DefaultPageSize = 10
	// MaxPageSize is the largest accepted page size.
	MaxPageSize = 100
)

// ListOpts controls pagination and filtering for List.
type ListOpts struct {
	// Status filters by status. Empty means all.
	Status Status
	// Channel filters by channel. Empty means all.
	Channel Channel
	// Page is 1-indexed.
	Page int
	// PageSize is the number of items per page.
	PageSize int
}

// Normalize fills defaults and rejects out-of-range paging.
func (o ListOpts) Normalize() (ListOpts, error) {
	if o.Page == 0 {
		o.Page = 1
	}
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Page < 1 {
		return o, notifier.NewValidationError("page", "must be at least 1")
	}
	if o.PageSize < 1 || o.PageSize > MaxPageSize {
		return o, notifier.NewValidationError("page_size", "must be between 1 and 100")
	}
	if o.Status != "" && !o.Status.IsValid() {
		return o, notifier.NewValidationError("status", "unknown status")
	}
	if o.Channel != "" && !o.Channel.IsValid() {
		return o, notifier.NewValidationError("channel", "unknown channel")
	}
	return o, nil
}

// Offset returns the number of records skipped before the page.
func (o ListOpts) Offset() int {
	if o.Page < 1 {
		return 0
	}
	return (o.Page - 1) * o.PageSize
}

// Store defines the persistence contract for notifications. It is the
// single durable owner of every record.
type Store interface {
	notifier.Storer

	// Create persists a new notification. It assigns an ID when n.ID is
	// nil and sets Version to 1.
	Create(ctx context.Context, n *Notification) error

	// Get retrieves a notification by ID. Returns notifier.ErrNotFound.
	Get(ctx context.Context, nid id.ID) (*Notification, error)

	// List returns one page of notifications ordered by created_at
	// descending, plus the total count matching the filters.
	List(ctx context.Context, opts ListOpts) ([]*Notification, int64, error)

	// Update applies p unconditionally and returns the updated record.
	Update(ctx context.Context, nid id.ID, p Patch) (*Notification, error)

	// Delete removes a notification. Returns notifier.ErrNotFound.
	Delete(ctx context.Context, nid id.ID) error

	// CompareAndSwap applies p only if the stored version equals
	// expectedVersion. Returns notifier.ErrConflict on mismatch and
	// notifier.ErrNotFound when the record is gone.
	CompareAndSwap(ctx context.Context, nid id.ID, expectedVersion int64, p Patch) (*Notification, error)

	// ListDue returns up to limit pending or scheduled notifications whose
	// scheduled_at is absent or not after now, ordered by priority
	// descending then due time ascending.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)

	// ListStale returns up to limit in_flight notifications claimed
	// before the given time.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Notification, error)

	// CountByStatus returns the number of notifications per status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
