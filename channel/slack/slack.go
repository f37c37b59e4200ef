// Package slack delivers notifications with the Slack Web API
// chat.postMessage method. The recipient is a channel ID, a user ID or a
// #channel name the bot can post to.
package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// DefaultBaseURL is the Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

// transientErrors are Slack error codes worth retrying. Any other error
// code is permanent.
var transientErrors = map[string]bool{
	"ratelimited":         true,
	"internal_error":      true,
	"fatal_error":         true,
	"service_unavailable": true,
	"request_timeout":     true,
}

// Config configures the adapter.
type Config struct {
	Token   string
	BaseURL string
	Client  channel.Doer
}

// Adapter is the Slack channel adapter.
type Adapter struct {
	endpoint string
	header   http.Header
	client   channel.Doer
}

var _ channel.Adapter = (*Adapter)(nil)

type postMessage struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// New creates an Adapter.
func New(cfg Config) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	a := &Adapter{
		endpoint: strings.TrimRight(base, "/") + "/chat.postMessage",
		header:   http.Header{},
		client:   cfg.Client,
	}
	a.header.Set("Authorization", "Bearer "+cfg.Token)
	if a.client == nil {
		a.client = &http.Client{Timeout: 10 * time.Second}
	}
	return a
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() notification.Channel { return notification.ChannelSlack }

// Send implements channel.Adapter.
func (a *Adapter) Send(ctx context.Context, n *notification.Notification) channel.Outcome {
	if strings.TrimSpace(n.Recipient) == "" {
		return channel.Permanent("recipient is empty")
	}

	text := n.Message
	if n.Subject != "" {
		text = "*" + n.Subject + "*\n" + n.Message
	}

	code, body, err := channel.PostJSON(ctx, a.client, a.endpoint, a.header, postMessage{
		Channel: n.Recipient,
		Text:    text,
	})
	if err != nil || code < 200 || code >= 300 {
		return channel.DefaultClassification().HTTPOutcome(code, body, err)
	}

	// Slack reports most failures as 200 with ok=false.
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return channel.Transientf("decode slack response: %v", err)
	}
	if resp.OK {
		return channel.Delivered()
	}
	if transientErrors[resp.Error] {
		return channel.Transient("slack: " + resp.Error)
	}
	return channel.Permanent("slack: " + resp.Error)
}
