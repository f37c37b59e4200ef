package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionEnqueued       = "notification.enqueued"
	ActionAttemptStarted = "notification.attempt_started"
	ActionDelivered      = "notification.delivered"
	ActionRetrying       = "notification.retrying"
	ActionFailed         = "notification.failed"
	ActionCancelled      = "notification.cancelled"
	ActionConflict       = "notification.conflict"
)

// CategoryNotification groups every action this extension emits.
const CategoryNotification = "notifier.notification"

// ResourceNotification is the Resource field of every audit event.
const ResourceNotification = "notification"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionEnqueued,
		ActionAttemptStarted,
		ActionDelivered,
		ActionRetrying,
		ActionFailed,
		ActionCancelled,
		ActionConflict,
	}
}
