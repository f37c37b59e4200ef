// Package email delivers notifications over SMTP.
package email

import (
	"context"
	"errors"
	netmail "net/mail"
	"net/textproto"
	"time"

	"gopkg.in/mail.v2"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// defaultSubject is used when a notification has no subject.
const defaultSubject = "Notification"

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds the SMTP dial and each command. Zero keeps the
	// dialer's default.
	Timeout time.Duration
}

// Sender sends fully built messages. *mail.Dialer implements it.
type Sender interface {
	DialAndSend(m ...*mail.Message) error
}

// Adapter is the email channel adapter.
type Adapter struct {
	from   string
	sender Sender
}

var _ channel.Adapter = (*Adapter)(nil)

// New creates an Adapter that dials the configured SMTP server for every
// message.
func New(cfg Config) *Adapter {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	return NewWithSender(cfg.From, d)
}

// NewWithSender creates an Adapter on top of an existing Sender.
func NewWithSender(from string, s Sender) *Adapter {
	return &Adapter{from: from, sender: s}
}

// Channel implements channel.Adapter.
func (a *Adapter) Channel() notification.Channel { return notification.ChannelEmail }

// Send implements channel.Adapter. An unparseable recipient and SMTP 5xx
// replies are permanent; 4xx replies and connection problems are
// transient.
func (a *Adapter) Send(ctx context.Context, n *notification.Notification) channel.Outcome {
	to, err := netmail.ParseAddress(n.Recipient)
	if err != nil {
		return channel.Permanentf("invalid email address %q: %v", n.Recipient, err)
	}
	if err := ctx.Err(); err != nil {
		return channel.Classify(err)
	}

	subject := n.Subject
	if subject == "" {
		subject = defaultSubject
	}

	m := mail.NewMessage()
	m.SetHeader("From", a.from)
	m.SetHeader("To", to.Address)
	m.SetHeader("Subject", subject)
	m.SetHeader("X-Notification-ID", n.ID.String())
	m.SetBody("text/plain", n.Message)

	return classify(a.sender.DialAndSend(m))
}

// classify maps SMTP errors onto outcomes.
func classify(err error) channel.Outcome {
	if err == nil {
		return channel.Delivered()
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && sendErr.Cause != nil {
		err = sendErr.Cause
	}

	var reply *textproto.Error
	if errors.As(err, &reply) {
		if reply.Code >= 500 {
			return channel.Permanentf("smtp %d: %s", reply.Code, reply.Msg)
		}
		return channel.Transientf("smtp %d: %s", reply.Code, reply.Msg)
	}
	return channel.TransportOutcome(err)
}
