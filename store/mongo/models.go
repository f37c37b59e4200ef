package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

type notificationModel struct {
	ID              bson.ObjectID  `bson:"_id"`
	Channel         string         `bson:"channel"`
	Recipient       string         `bson:"recipient"`
	Subject         string         `bson:"subject"`
	Message         string         `bson:"message"`
	Priority        string         `bson:"priority"`
	PriorityRank    int            `bson:"priority_rank"`
	Status          string         `bson:"status"`
	Metadata        map[string]any `bson:"metadata"`
	ScheduledAt     *time.Time     `bson:"scheduled_at"`
	SentAt          *time.Time     `bson:"sent_at"`
	RetryCount      int            `bson:"retry_count"`
	MaxRetries      int            `bson:"max_retries"`
	ErrorMessage    string         `bson:"error_message"`
	Version         int64          `bson:"version"`
	AttemptToken    string         `bson:"attempt_token"`
	WorkerID        string         `bson:"worker_id"`
	ClaimedAt       *time.Time     `bson:"claimed_at"`
	CancelRequested bool           `bson:"cancel_requested"`
	CreatedAt       time.Time      `bson:"created_at"`
	UpdatedAt       time.Time      `bson:"updated_at"`
}

func toModel(n *notification.Notification) *notificationModel {
	meta := n.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return &notificationModel{
		ID:              n.ID.ObjectID(),
		Channel:         string(n.Channel),
		Recipient:       n.Recipient,
		Subject:         n.Subject,
		Message:         n.Message,
		Priority:        string(n.Priority),
		PriorityRank:    n.Priority.Rank(),
		Status:          string(n.Status),
		Metadata:        meta,
		ScheduledAt:     n.ScheduledAt,
		SentAt:          n.SentAt,
		RetryCount:      n.RetryCount,
		MaxRetries:      n.MaxRetries,
		ErrorMessage:    n.ErrorMessage,
		Version:         n.Version,
		AttemptToken:    n.AttemptToken,
		WorkerID:        n.WorkerID,
		ClaimedAt:       n.ClaimedAt,
		CancelRequested: n.CancelRequested,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func fromModel(m *notificationModel) *notification.Notification {
	meta, _ := normalize(bson.M(m.Metadata)).(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	return &notification.Notification{
		Entity: notifier.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:              id.FromObjectID(m.ID),
		Channel:         notification.Channel(m.Channel),
		Recipient:       m.Recipient,
		Subject:         m.Subject,
		Message:         m.Message,
		Priority:        notification.Priority(m.Priority),
		Status:          notification.Status(m.Status),
		Metadata:        meta,
		ScheduledAt:     utc(m.ScheduledAt),
		SentAt:          utc(m.SentAt),
		RetryCount:      m.RetryCount,
		MaxRetries:      m.MaxRetries,
		ErrorMessage:    m.ErrorMessage,
		Version:         m.Version,
		AttemptToken:    m.AttemptToken,
		WorkerID:        m.WorkerID,
		ClaimedAt:       utc(m.ClaimedAt),
		CancelRequested: m.CancelRequested,
	}
}

// normalize turns the driver's document types back into plain maps and
// slices so metadata renders as ordinary JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[string]any:
		return normalize(bson.M(t))
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
