package slack_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/channel/slack"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

func newNotification() *notification.Notification {
	return &notification.Notification{
		ID:        id.New(),
		Channel:   notification.ChannelSlack,
		Recipient: "C0123456",
		Subject:   "Deploy",
		Message:   "v1.4.2 is live",
	}
}

func TestSend_PostsMessage(t *testing.T) {
	var got map[string]string
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	a := slack.New(slack.Config{Token: "xoxb-test", BaseURL: srv.URL + "/"})
	if o := a.Send(context.Background(), newNotification()); o.Kind != channel.KindDelivered {
		t.Fatalf("outcome = %s", o)
	}
	if path != "/chat.postMessage" {
		t.Errorf("path = %q", path)
	}
	if auth != "Bearer xoxb-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if got["channel"] != "C0123456" || got["text"] != "*Deploy*\nv1.4.2 is live" {
		t.Errorf("payload = %v", got)
	}
}

func TestSend_ErrorCodes(t *testing.T) {
	tests := []struct {
		body string
		want channel.Kind
	}{
		{`{"ok":false,"error":"channel_not_found"}`, channel.KindPermanent},
		{`{"ok":false,"error":"invalid_auth"}`, channel.KindPermanent},
		{`{"ok":false,"error":"ratelimited"}`, channel.KindTransient},
		{`{"ok":false,"error":"internal_error"}`, channel.KindTransient},
		{`not json`, channel.KindTransient},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(tt.body))
		}))
		o := slack.New(slack.Config{Token: "t", BaseURL: srv.URL}).Send(context.Background(), newNotification())
		srv.Close()
		if o.Kind != tt.want {
			t.Errorf("%s: outcome = %s, want %s", tt.body, o, tt.want)
		}
	}
}

func TestSend_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := slack.New(slack.Config{Token: "t", BaseURL: srv.URL}).Send(context.Background(), newNotification())
	if o.Kind != channel.KindTransient {
		t.Errorf("outcome = %s, want transient", o)
	}
}

func TestSend_EmptyRecipient(t *testing.T) {
	n := newNotification()
	n.Recipient = "  "
	if o := slack.New(slack.Config{}).Send(context.Background(), n); o.Kind != channel.KindPermanent {
		t.Errorf("outcome = %s, want permanent", o)
	}
}
