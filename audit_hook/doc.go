// Package audithook is a notifier extension that turns lifecycle events
// into an audit trail.
//
// Every lifecycle hook emits a structured audit event through the
// [Recorder] interface: info for normal progress, warning for retries,
// cancellations and concurrency conflicts, critical for terminal failures.
// Events carry the notification id, channel, recipient, attempt counters
// and reasons as metadata.
//
// [LogRecorder] writes events as structured log records, which is enough
// to reconstruct a notification's history from the process logs.
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionFailed,
//	        audithook.ActionConflict,
//	    ),
//	)
package audithook
