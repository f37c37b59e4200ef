package notification

import "cmp"

// CompareDue orders notifications for dispatch: higher priority first,
// then earlier due time, then ID.
func CompareDue(a, b *Notification) int {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return cmp.Compare(rb, ra)
	}
	if c := a.DueAt().Compare(b.DueAt()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}
