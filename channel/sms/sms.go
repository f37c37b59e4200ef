// Package sms delivers notifications through an HTTP SMS gateway.
//
// The gateway receives a JSON POST of {"to", "from", "text"} with a bearer
// token. Any gateway speaking that shape (or fronted by a thin proxy that
// does) can be used.
package sms

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// e164 matches international phone numbers such as +14155550100.
var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Config configures the gateway client.
type Config struct {
	Endpoint string
	APIKey   string
	From     string
	// Classification overrides the default status mapping.
	Classification *channel.Classification
	// Client defaults to an http.Client with a 10s timeout.
	Client channel.Doer
}

// Adapter is the SMS channel adapter.
type Adapter struct {
	endpoint string
	header   http.Header
	from     string
	classify channel.Classification
	client   channel.Doer
}

var _ channel.Adapter = (*Adapter)(nil)

type message struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// New creates an Adapter.
func New(cfg Config) *Adapter {
	a := &Adapter{
		endpoint: cfg.Endpoint,
		header:   http.Header{},
		from:     cfg.From,
		classify: channel.DefaultClassification(),
		client:   cfg.Client,
	}
	if cfg.APIKey != "" {
		a.header.Set("Authorization", "Bearer "+cfg.APIKey)
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
func (a *Adapter) Channel() notification.Channel { return notification.ChannelSMS }

// Send implements channel.Adapter. Recipients must be E.164 numbers.
func (a *Adapter) Send(ctx context.Context, n *notification.Notification) channel.Outcome {
	if !e164.MatchString(n.Recipient) {
		return channel.Permanentf("recipient %q is not an E.164 phone number", n.Recipient)
	}

	code, body, err := channel.PostJSON(ctx, a.client, a.endpoint, a.header, message{
		To:   n.Recipient,
		From: a.from,
		Text: n.Message,
	})
	return a.classify.HTTPOutcome(code, body, err)
}
