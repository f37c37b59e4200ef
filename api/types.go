package api

import (
	"time"

	"github.com/xraph/notifier/notification"
)

// CreateNotificationRequest is the body of POST /notifications.
type CreateNotificationRequest struct {
	Channel     string         `json:"channel"`
	Recipient   string         `json:"recipient"`
	Subject     string         `json:"subject"`
	Message     string         `json:"message"`
	Priority    string         `json:"priority"`
	Metadata    map[string]any `json:"metadata"`
	ScheduledAt *time.Time     `json:"scheduled_at"`
	MaxRetries  *int           `json:"max_retries"`
}

func (r CreateNotificationRequest) draft() notification.Draft {
	return notification.Draft{
		Channel:     notification.Channel(r.Channel),
		Recipient:   r.Recipient,
		Subject:     r.Subject,
		Message:     r.Message,
		Priority:    notification.Priority(r.Priority),
		Metadata:    r.Metadata,
		ScheduledAt: r.ScheduledAt,
		MaxRetries:  r.MaxRetries,
	}
}

// NotificationResponse is the wire form of a notification.
type NotificationResponse struct {
	ID              string         `json:"id"`
	Channel         string         `json:"channel"`
	Recipient       string         `json:"recipient"`
	Subject         *string        `json:"subject"`
	Message         string         `json:"message"`
	Priority        string         `json:"priority"`
	Status          string         `json:"status"`
	Metadata        map[string]any `json:"metadata"`
	ScheduledAt     *time.Time     `json:"scheduled_at"`
	SentAt          *time.Time     `json:"sent_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	ErrorMessage    *string        `json:"error_message"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	Version         int64          `json:"version"`
}

func toResponse(n *notification.Notification) NotificationResponse {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return NotificationResponse{
		ID:              n.ID.String(),
		Channel:         string(n.Channel),
		Recipient:       n.Recipient,
		Subject:         optional(n.Subject),
		Message:         n.Message,
		Priority:        string(n.Priority),
		Status:          string(n.Status),
		Metadata:        metadata,
		ScheduledAt:     n.ScheduledAt,
		SentAt:          n.SentAt,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
		RetryCount:      n.RetryCount,
		MaxRetries:      n.MaxRetries,
		ErrorMessage:    optional(n.ErrorMessage),
		CancelRequested: n.CancelRequested,
		Version:         n.Version,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListNotificationsResponse is one page of GET /notifications.
type ListNotificationsResponse struct {
	Total         int64                  `json:"total"`
	Page          int                    `json:"page"`
	PageSize      int                    `json:"page_size"`
	Notifications []NotificationResponse `json:"notifications"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Total  int64            `json:"total"`
	Counts map[string]int64 `json:"counts"`
	Queue  QueueDepth       `json:"queue"`
}

// QueueDepth reports what the scheduler holds in memory.
type QueueDepth struct {
	Ready   int `json:"ready"`
	Delayed int `json:"delayed"`
	Leased  int `json:"leased"`
}
