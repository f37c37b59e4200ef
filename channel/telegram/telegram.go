// Package telegram delivers notifications through the Telegram Bot API
// sendMessage method. The recipient is a chat ID or an @channel username.
package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// DefaultBaseURL is the Bot API root.
const DefaultBaseURL = "https://api.telegram.org"

// Config configures the adapter.
type Config struct {
	Token   string
	BaseURL string
	Client  channel.Doer
}

// Adapter is the Telegram channel adapter.
type Adapter struct {
	endpoint string
	client   channel.Doer
}

var _ channel.Adapter = (*Adapter)(nil)

type sendMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// New creates an Adapter.
func New(cfg Config) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	a := &Adapter{
		endpoint: strings.TrimRight(base, "/") + "/bot" + cfg.Token + "/sendMessage",
		client:   cfg.Client,
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 10 * time.Second}
	}
	return a
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() notification.Channel { return notification.ChannelTelegram }

// Send implements channel.Adapter.
func (a *Adapter) Send(ctx context.Context, n *notification.Notification) channel.Outcome {
	if strings.TrimSpace(n.Recipient) == "" {
		return channel.Permanent("recipient is empty")
	}

	text := n.Message
	if n.Subject != "" {
		text = n.Subject + "\n\n" + n.Message
	}

	code, body, err := channel.PostJSON(ctx, a.client, a.endpoint, nil, sendMessage{
		ChatID: n.Recipient,
		Text:   text,
	})
	if err != nil {
		return channel.TransportOutcome(err)
	}

	var resp apiResponse
	if jerr := json.Unmarshal(body, &resp); jerr != nil || resp.Description == "" {
		return channel.DefaultClassification().HTTPOutcome(code, body, nil)
	}
	if resp.OK {
		return channel.Delivered()
	}
	if resp.ErrorCode == 0 {
		resp.ErrorCode = code
	}
	return channel.DefaultClassification().Outcome(resp.ErrorCode, resp.Description)
}
