package redis

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// record is the msgpack form of a notification.
type record struct {
	ID              string         `msgpack:"id"`
	Channel         string         `msgpack:"channel"`
	Recipient       string         `msgpack:"recipient"`
	Subject         string         `msgpack:"subject"`
	Message         string         `msgpack:"message"`
	Priority        string         `msgpack:"priority"`
	Status          string         `msgpack:"status"`
	Metadata        map[string]any `msgpack:"metadata"`
	ScheduledAt     *time.Time     `msgpack:"scheduled_at"`
	SentAt          *time.Time     `msgpack:"sent_at"`
	RetryCount      int            `msgpack:"retry_count"`
	MaxRetries      int            `msgpack:"max_retries"`
	ErrorMessage    string         `msgpack:"error_message"`
	Version         int64          `msgpack:"version"`
	AttemptToken    string         `msgpack:"attempt_token"`
	WorkerID        string         `msgpack:"worker_id"`
	ClaimedAt       *time.Time     `msgpack:"claimed_at"`
	CancelRequested bool           `msgpack:"cancel_requested"`
	CreatedAt       time.Time      `msgpack:"created_at"`
	UpdatedAt       time.Time      `msgpack:"updated_at"`
}

func encode(n *notification.Notification) ([]byte, error) {
	data, err := msgpack.Marshal(&record{
		ID:              n.ID.String(),
		Channel:         string(n.Channel),
		Recipient:       n.Recipient,
		Subject:         n.Subject,
		Message:         n.Message,
		Priority:        string(n.Priority),
		Status:          string(n.Status),
		Metadata:        n.Metadata,
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
	})
	if err != nil {
		return nil, fmt.Errorf("notifier/redis: encode notification: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*notification.Notification, error) {
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("notifier/redis: decode notification: %w", err)
	}

	nid, err := id.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("notifier/redis: parse notification id %q: %w", r.ID, err)
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}

	return &notification.Notification{
		Entity: notifier.Entity{
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
		},
		ID:              nid,
		Channel:         notification.Channel(r.Channel),
		Recipient:       r.Recipient,
		Subject:         r.Subject,
		Message:         r.Message,
		Priority:        notification.Priority(r.Priority),
		Status:          notification.Status(r.Status),
		Metadata:        r.Metadata,
		ScheduledAt:     utc(r.ScheduledAt),
		SentAt:          utc(r.SentAt),
		RetryCount:      r.RetryCount,
		MaxRetries:      r.MaxRetries,
		ErrorMessage:    r.ErrorMessage,
		Version:         r.Version,
		AttemptToken:    r.AttemptToken,
		WorkerID:        r.WorkerID,
		ClaimedAt:       utc(r.ClaimedAt),
		CancelRequested: r.CancelRequested,
	}, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
