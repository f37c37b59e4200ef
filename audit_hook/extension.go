package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/notifier/ext"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.Enqueued       = (*Extension)(nil)
	_ ext.AttemptStarted = (*Extension)(nil)
	_ ext.Delivered      = (*Extension)(nil)
	_ ext.Retrying       = (*Extension)(nil)
	_ ext.Failed         = (*Extension)(nil)
	_ ext.Cancelled      = (*Extension)(nil)
	_ ext.Conflict       = (*Extension)(nil)
)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder returns a Recorder that writes each event as one log record
// at a level matching its severity.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		logger.LogAttrs(ctx, level, "audit",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("reason", evt.Reason),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnEnqueued implements ext.Enqueued.
func (e *Extension) OnEnqueued(ctx context.Context, n *notification.Notification) error {
	return e.record(ctx, ActionEnqueued, SeverityInfo, OutcomeSuccess, n.ID.String(), "",
		"channel", string(n.Channel),
		"recipient", n.Recipient,
		"priority", string(n.Priority),
		"status", string(n.Status),
	)
}

// OnAttemptStarted implements ext.AttemptStarted.
func (e *Extension) OnAttemptStarted(ctx context.Context, n *notification.Notification) error {
	return e.record(ctx, ActionAttemptStarted, SeverityInfo, OutcomeSuccess, n.ID.String(), "",
		"channel", string(n.Channel),
		"worker_id", n.WorkerID,
		"attempt", n.RetryCount+1,
	)
}

// OnDelivered implements ext.Delivered.
func (e *Extension) OnDelivered(ctx context.Context, n *notification.Notification, elapsed time.Duration) error {
	return e.record(ctx, ActionDelivered, SeverityInfo, OutcomeSuccess, n.ID.String(), "",
		"channel", string(n.Channel),
		"retry_count", n.RetryCount,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRetrying implements ext.Retrying.
func (e *Extension) OnRetrying(ctx context.Context, n *notification.Notification, attempt int, nextAt time.Time, reason string) error {
	return e.record(ctx, ActionRetrying, SeverityWarning, OutcomeFailure, n.ID.String(), reason,
		"channel", string(n.Channel),
		"attempt", attempt,
		"max_retries", n.MaxRetries,
		"next_attempt_at", nextAt.Format(time.RFC3339),
	)
}

// OnFailed implements ext.Failed.
func (e *Extension) OnFailed(ctx context.Context, n *notification.Notification, reason string, exhausted bool) error {
	return e.record(ctx, ActionFailed, SeverityCritical, OutcomeFailure, n.ID.String(), reason,
		"channel", string(n.Channel),
		"retry_count", n.RetryCount,
		"max_retries", n.MaxRetries,
		"exhausted", exhausted,
	)
}

// OnCancelled implements ext.Cancelled.
func (e *Extension) OnCancelled(ctx context.Context, n *notification.Notification) error {
	return e.record(ctx, ActionCancelled, SeverityWarning, OutcomeSuccess, n.ID.String(), "",
		"channel", string(n.Channel),
		"retry_count", n.RetryCount,
	)
}

// OnConflict implements ext.Conflict.
func (e *Extension) OnConflict(ctx context.Context, nid id.ID, workerID, outcome string) error {
	return e.record(ctx, ActionConflict, SeverityWarning, OutcomeFailure, nid.String(),
		"attempt outcome dropped on version conflict",
		"worker_id", workerID,
		"outcome", outcome,
	)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(ctx context.Context, action, severity, outcome, resourceID, reason string, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceNotification,
		Category:   CategoryNotification,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
