// Package ext defines the extension system for the notifier.
//
// Extensions are notified of dispatch lifecycle events and can react to
// them, for example by recording metrics or writing audit logs. Each
// lifecycle hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnDelivered(ctx context.Context, n *notification.Notification, elapsed time.Duration) error {
//	    log.Printf("notification %s sent in %s", n.ID, elapsed)
//	    return nil
//	}
//
// # Hooks
//
//   - [Enqueued]: a notification was accepted and submitted to the scheduler
//   - [AttemptStarted]: a worker claimed the notification
//   - [Delivered]: the channel accepted the notification
//   - [Retrying]: a transient failure was scheduled for retry
//   - [Failed]: the notification failed terminally
//   - [Cancelled]: a cancel request was applied
//   - [Conflict]: an outcome lost a compare-and-swap and was discarded
//   - [Shutdown]: the notifier is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never propagated.
package ext
