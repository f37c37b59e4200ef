// Package webhook delivers notifications as signed JSON POSTs to the
// recipient URL.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/middleware"
	"github.com/xraph/notifier/notification"
)

// Header names set on every delivery.
const (
	HeaderID        = "X-Notification-ID"
	HeaderAttempt   = "X-Notification-Attempt"
	HeaderSignature = "X-Notification-Signature"
)

// Config configures the adapter.
type Config struct {
	// Secret signs the body with HMAC-SHA256 when set.
	Secret         string
	Classification *channel.Classification
	Client         channel.Doer
}

// Adapter is the webhook channel adapter.
type Adapter struct {
	secret   []byte
	classify channel.Classification
	client   channel.Doer
}

var _ channel.Adapter = (*Adapter)(nil)

// Payload is the JSON body receivers get.
type Payload struct {
	ID       string         `json:"id"`
	Channel  string         `json:"channel"`
	Subject  string         `json:"subject,omitempty"`
	Message  string         `json:"message"`
	Priority string         `json:"priority"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// New creates an Adapter.
func New(cfg Config) *Adapter {
	a := &Adapter{
		secret:   []byte(cfg.Secret),
		classify: channel.DefaultClassification(),
		client:   cfg.Client,
	}
	if cfg.Classification != nil {
		a.classify = *cfg.Classification
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 10 * time.Second}
	}
	return a
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() notification.Channel { return notification.ChannelWebhook }

// Send implements channel.Adapter.
func (a *Adapter) Send(ctx context.Context, n *notification.Notification) channel.Outcome {
	u, err := url.Parse(n.Recipient)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return channel.Permanentf("recipient %q is not an http(s) URL", n.Recipient)
	}

	payload, err := json.Marshal(Payload{
		ID:       n.ID.String(),
		Channel:  string(n.Channel),
		Subject:  n.Subject,
		Message:  n.Message,
		Priority: string(n.Priority),
		Metadata: n.Metadata,
	})
	if err != nil {
		return channel.Permanentf("marshal payload: %v", err)
	}

	header := http.Header{}
	header.Set(HeaderID, n.ID.String())
	if info, ok := middleware.AttemptFrom(ctx); ok {
		header.Set(HeaderAttempt, strconv.Itoa(info.Number))
	}
	if len(a.secret) > 0 {
		header.Set(HeaderSignature, Sign(a.secret, payload))
	}

	code, body, err := channel.PostRaw(ctx, a.client, u.String(), header, payload)
	return a.classify.HTTPOutcome(code, body, err)
}

// Sign returns the signature header value for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload. Receivers written in
// Go can use it directly.
func Verify(secret, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}
