package sms_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/channel/sms"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

func newNotification(recipient string) *notification.Notification {
	return &notification.Notification{
		ID:        id.New(),
		Channel:   notification.ChannelSMS,
		Recipient: recipient,
		Message:   "Your code is 1234",
	}
}

func TestSend_PostsToGateway(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a := sms.New(sms.Config{Endpoint: srv.URL, APIKey: "secret", From: "+15550001111"})
	if o := a.Send(context.Background(), newNotification("+14155550100")); o.Kind != channel.KindDelivered {
		t.Fatalf("outcome = %s", o)
	}

	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got["to"] != "+14155550100" || got["from"] != "+15550001111" || got["text"] != "Your code is 1234" {
		t.Errorf("payload = %v", got)
	}
}

func TestSend_RejectsNonE164(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	a := sms.New(sms.Config{Endpoint: srv.URL})
	for _, r := range []string{"4155550100", "+0123", "+1 415 555 0100", "user@example.com"} {
		if o := a.Send(context.Background(), newNotification(r)); o.Kind != channel.KindPermanent {
			t.Errorf("%q: outcome = %s, want permanent", r, o)
		}
	}
	if called {
		t.Error("gateway must not be called for invalid numbers")
	}
}

func TestSend_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   channel.Kind
	}{
		{http.StatusOK, channel.KindDelivered},
		{http.StatusBadRequest, channel.KindPermanent},
		{http.StatusTooManyRequests, channel.KindTransient},
		{http.StatusServiceUnavailable, channel.KindTransient},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		o := sms.New(sms.Config{Endpoint: srv.URL}).Send(context.Background(), newNotification("+14155550100"))
		srv.Close()
		if o.Kind != tt.want {
			t.Errorf("status %d: outcome = %s, want %s", tt.status, o, tt.want)
		}
	}
}

func TestSend_ClassificationOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := channel.DefaultClassification().With(http.StatusConflict, channel.KindTransient)
	a := sms.New(sms.Config{Endpoint: srv.URL, Classification: &c})
	if o := a.Send(context.Background(), newNotification("+14155550100")); o.Kind != channel.KindTransient {
		t.Errorf("outcome = %s, want transient", o)
	}
}

func TestSend_UnreachableGatewayIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	if o := sms.New(sms.Config{Endpoint: url}).Send(context.Background(), newNotification("+14155550100")); o.Kind != channel.KindTransient {
		t.Errorf("outcome = %s, want transient", o)
	}
}
