package email_test

import (
	"context"
	"errors"
	"net/textproto"
	"testing"

	"gopkg.in/mail.v2"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/channel/email"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

type fakeSender struct {
	sent []*mail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*mail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func newNotification(recipient string) *notification.Notification {
	return &notification.Notification{
		ID:        id.New(),
		Channel:   notification.ChannelEmail,
		Recipient: recipient,
		Subject:   "Welcome!",
		Message:   "Welcome to our platform",
	}
}

func TestSend_BuildsMessage(t *testing.T) {
	s := &fakeSender{}
	a := email.NewWithSender("noreply@example.com", s)
	n := newNotification("Jane Doe <jane@example.com>")

	o := a.Send(context.Background(), n)
	if o.Kind != channel.KindDelivered {
		t.Fatalf("outcome = %s", o)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(s.sent))
	}

	m := s.sent[0]
	checks := map[string]string{
		"From":              "noreply@example.com",
		"To":                "jane@example.com",
		"Subject":           "Welcome!",
		"X-Notification-ID": n.ID.String(),
	}
	for field, want := range checks {
		if got := m.GetHeader(field); len(got) != 1 || got[0] != want {
			t.Errorf("%s = %v, want %q", field, got, want)
		}
	}
}

func TestSend_DefaultSubject(t *testing.T) {
	s := &fakeSender{}
	n := newNotification("jane@example.com")
	n.Subject = ""

	email.NewWithSender("noreply@example.com", s).Send(context.Background(), n)
	if got := s.sent[0].GetHeader("Subject"); len(got) != 1 || got[0] != "Notification" {
		t.Errorf("Subject = %v", got)
	}
}

func TestSend_Classification(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		err       error
		want      channel.Kind
	}{
		{"invalid address", "not-an-address", nil, channel.KindPermanent},
		{"mailbox unavailable", "jane@example.com", &textproto.Error{Code: 550, Msg: "no such user"}, channel.KindPermanent},
		{"wrapped in send error", "jane@example.com", &mail.SendError{Cause: &textproto.Error{Code: 552, Msg: "quota"}}, channel.KindPermanent},
		{"greylisted", "jane@example.com", &textproto.Error{Code: 451, Msg: "try later"}, channel.KindTransient},
		{"dial failure", "jane@example.com", errors.New("dial tcp: connection refused"), channel.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := email.NewWithSender("noreply@example.com", &fakeSender{err: tt.err})
			if o := a.Send(context.Background(), newNotification(tt.recipient)); o.Kind != tt.want {
				t.Errorf("outcome = %s, want %s", o, tt.want)
			}
		})
	}
}

func TestSend_CancelledContext(t *testing.T) {
	s := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := email.NewWithSender("noreply@example.com", s).Send(ctx, newNotification("jane@example.com"))
	if o.Kind != channel.KindTransient {
		t.Errorf("outcome = %s, want transient", o)
	}
	if len(s.sent) != 0 {
		t.Error("nothing should be sent after cancellation")
	}
}

func TestChannel(t *testing.T) {
	if got := email.New(email.Config{Host: "localhost", Port: 25}).Channel(); got != notification.ChannelEmail {
		t.Errorf("Channel() = %s", got)
	}
}
