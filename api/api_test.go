package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/api"
	"github.com/xraph/notifier/engine"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type testServer struct {
	handler http.Handler
	eng     *engine.Engine
	store   *memory.Store
	clock   *notifier.ManualClock
}

func setupServer(t *testing.T, opts ...api.Option) *testServer {
	t.Helper()
	s := memory.New()
	clock := notifier.NewManualClock(time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC))
	n, err := notifier.New(notifier.WithStore(s), notifier.WithClock(clock))
	if err != nil {
		t.Fatalf("notifier.New: %v", err)
	}
	eng, err := engine.Build(n)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return &testServer{
		handler: api.New(eng, opts...).Handler(),
		eng:     eng,
		store:   s,
		clock:   clock,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func (ts *testServer) create(t *testing.T, body string) api.NotificationResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/notifications", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", w.Code, w.Body.String())
	}
	var resp api.NotificationResponse
	decode(t, w, &resp)
	return resp
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, w, &body)
	return body["error"]
}

const emailBody = `{"channel":"email","recipient":"  user@example.com ","subject":"Welcome!","message":"Welcome to our platform","metadata":{"user_id":"123"}}`

// ──────────────────────────────────────────────────
// Root and health
// ──────────────────────────────────────────────────

func TestRootAndHealth(t *testing.T) {
	ts := setupServer(t, api.WithVersion("2.1.0"))

	w := ts.do(t, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"version":"2.1.0"`) {
		t.Errorf("root: %d %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}

	_ = ts.store.Close()
	w = ts.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health after close: want 503, got %d", w.Code)
	}
}

// ──────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────

func TestCreateNotification(t *testing.T) {
	ts := setupServer(t)

	resp := ts.create(t, emailBody)
	if _, err := id.Parse(resp.ID); err != nil {
		t.Errorf("ID %q is not a valid id: %v", resp.ID, err)
	}
	if resp.Recipient != "user@example.com" {
		t.Errorf("Recipient = %q, want trimmed", resp.Recipient)
	}
	if resp.Status != "pending" || resp.Priority != "normal" {
		t.Errorf("Status/Priority = %q/%q", resp.Status, resp.Priority)
	}
	if resp.MaxRetries != 3 || resp.RetryCount != 0 {
		t.Errorf("MaxRetries/RetryCount = %d/%d", resp.MaxRetries, resp.RetryCount)
	}
	if resp.Metadata["user_id"] != "123" {
		t.Errorf("Metadata = %v", resp.Metadata)
	}
	if resp.ErrorMessage != nil || resp.SentAt != nil {
		t.Errorf("ErrorMessage/SentAt should be null: %v %v", resp.ErrorMessage, resp.SentAt)
	}
}

func TestCreateNotification_Scheduled(t *testing.T) {
	ts := setupServer(t)

	at := ts.clock.Now().Add(time.Hour).Format(time.RFC3339)
	resp := ts.create(t, `{"channel":"sms","recipient":"+15551234567","message":"later","scheduled_at":"`+at+`"}`)
	if resp.Status != "scheduled" {
		t.Errorf("Status = %q, want scheduled", resp.Status)
	}
}

func TestCreateNotification_Invalid(t *testing.T) {
	ts := setupServer(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"channel":`, "invalid request body"},
		{"unknown channel", `{"channel":"fax","recipient":"x","message":"m"}`, "invalid channel"},
		{"blank recipient", `{"channel":"email","recipient":"   ","message":"m"}`, "Recipient cannot be empty"},
		{"empty message", `{"channel":"email","recipient":"x","message":""}`, "invalid message"},
		{"long subject", `{"channel":"email","recipient":"x","message":"m","subject":"` + strings.Repeat("s", 201) + `"}`, "invalid subject"},
		{"max_retries too high", `{"channel":"email","recipient":"x","message":"m","max_retries":11}`, "invalid max_retries"},
		{"bad priority", `{"channel":"email","recipient":"x","message":"m","priority":"asap"}`, "invalid priority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/notifications", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status %d body %s", w.Code, w.Body.String())
			}
			if got := errorOf(t, w); !strings.Contains(got, tt.want) {
				t.Errorf("error = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Get and list
// ──────────────────────────────────────────────────

func TestGetNotification(t *testing.T) {
	ts := setupServer(t)
	created := ts.create(t, emailBody)

	w := ts.do(t, http.MethodGet, "/api/v1/notifications/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var got api.NotificationResponse
	decode(t, w, &got)
	if got.ID != created.ID || got.Message != created.Message {
		t.Errorf("got %+v", got)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/notifications/not-an-id", "")
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "Invalid notification ID format" {
		t.Errorf("malformed id: %d %s", w.Code, w.Body.String())
	}

	missing := id.New().String()
	w = ts.do(t, http.MethodGet, "/api/v1/notifications/"+missing, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing: status %d", w.Code)
	}
	if got := errorOf(t, w); got != "Notification with ID "+missing+" not found" {
		t.Errorf("missing: error = %q", got)
	}
}

func TestListNotifications(t *testing.T) {
	ts := setupServer(t)
	for range 3 {
		ts.create(t, emailBody)
		ts.clock.Advance(time.Second)
	}
	ts.create(t, `{"channel":"slack","recipient":"#ops","message":"deploy done"}`)

	w := ts.do(t, http.MethodGet, "/api/v1/notifications?page=2&page_size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var page api.ListNotificationsResponse
	decode(t, w, &page)
	if page.Total != 4 || page.Page != 2 || page.PageSize != 2 || len(page.Notifications) != 2 {
		t.Errorf("page = %+v", page)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/notifications?channel=slack", "")
	decode(t, w, &page)
	if page.Total != 1 || page.Notifications[0].Channel != "slack" {
		t.Errorf("channel filter: %+v", page)
	}
	if page.Page != 1 || page.PageSize != 10 {
		t.Errorf("defaults: page %d size %d", page.Page, page.PageSize)
	}

	for _, q := range []string{"page=0", "page_size=101", "page_size=abc", "status=bogus"} {
		w = ts.do(t, http.MethodGet, "/api/v1/notifications?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: want 400, got %d", q, w.Code)
		}
	}
}

// ──────────────────────────────────────────────────
// Update
// ──────────────────────────────────────────────────

func TestUpdateNotification(t *testing.T) {
	ts := setupServer(t)
	created := ts.create(t, emailBody)

	w := ts.do(t, http.MethodPatch, "/api/v1/notifications/"+created.ID, `{"priority":"high","subject":null}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var got api.NotificationResponse
	decode(t, w, &got)
	if got.Priority != "high" {
		t.Errorf("Priority = %q", got.Priority)
	}
	if got.Subject != nil {
		t.Errorf("Subject = %q, want null", *got.Subject)
	}
	if got.Message != created.Message {
		t.Errorf("Message changed to %q", got.Message)
	}
}

func TestUpdateNotification_Errors(t *testing.T) {
	ts := setupServer(t)
	created := ts.create(t, emailBody)
	path := "/api/v1/notifications/" + created.ID

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		want   string
	}{
		{"empty body", path, `{}`, http.StatusBadRequest, "No fields to update"},
		{"unknown fields only", path, `{"foo":1}`, http.StatusBadRequest, "No fields to update"},
		{"malformed id", "/api/v1/notifications/xyz", `{"priority":"high"}`, http.StatusBadRequest, "Invalid notification ID format"},
		{"bad priority", path, `{"priority":"asap"}`, http.StatusBadRequest, "invalid priority"},
		{"null message", path, `{"message":null}`, http.StatusBadRequest, "invalid message"},
		{"status sent", path, `{"status":"sent"}`, http.StatusConflict, "invalid status transition"},
		{"missing", "/api/v1/notifications/" + id.New().String(), `{"priority":"high"}`, http.StatusNotFound, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPatch, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status %d, want %d, body %s", w.Code, tt.status, w.Body.String())
			}
			if got := errorOf(t, w); !strings.Contains(got, tt.want) {
				t.Errorf("error = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestUpdateNotification_NotEditable(t *testing.T) {
	ts := setupServer(t)
	created := ts.create(t, emailBody)
	nid, _ := id.Parse(created.ID)

	if _, err := ts.store.Update(t.Context(), nid, notification.Patch{
		Status: notification.Some(notification.StatusSent),
	}); err != nil {
		t.Fatalf("store Update: %v", err)
	}

	w := ts.do(t, http.MethodPatch, "/api/v1/notifications/"+created.ID, `{"message":"changed"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("want 409, got %d %s", w.Code, w.Body.String())
	}
}

// ──────────────────────────────────────────────────
// Cancel, delete, stats
// ──────────────────────────────────────────────────

func TestCancelNotification(t *testing.T) {
	ts := setupServer(t)
	created := ts.create(t, emailBody)

	w := ts.do(t, http.MethodPost, "/api/v1/notifications/"+created.ID+"/cancel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var got api.NotificationResponse
	decode(t, w, &got)
	if got.Status != "cancelled" {
		t.Errorf("Status = %q", got.Status)
	}

	w = ts.do(t, http.MethodPatch, "/api/v1/notifications/"+created.ID, `{"status":"cancelled"}`)
	if w.Code != http.StatusOK {
		t.Errorf("cancel via PATCH on cancelled record: %d", w.Code)
	}
}

func TestDeleteNotification(t *testing.T) {
	ts := setupServer(t)
	created := ts.create(t, emailBody)

	w := ts.do(t, http.MethodDelete, "/api/v1/notifications/"+created.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/api/v1/notifications/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: want 404, got %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/api/v1/notifications/123", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: want 400, got %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	ts := setupServer(t)
	ts.create(t, emailBody)
	ts.create(t, emailBody)

	w := ts.do(t, http.MethodGet, "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var st api.StatsResponse
	decode(t, w, &st)
	if st.Total != 2 || st.Counts["pending"] != 2 || st.Counts["sent"] != 0 {
		t.Errorf("stats = %+v", st)
	}
	if st.Queue.Ready != 2 {
		t.Errorf("Queue.Ready = %d, want 2", st.Queue.Ready)
	}
}

func TestPushRouteMounted(t *testing.T) {
	called := false
	push := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	ts := setupServer(t, api.WithPushHandler(push))

	w := ts.do(t, http.MethodGet, "/api/v1/push/ws?recipient=u1", "")
	if !called || w.Code != http.StatusTeapot {
		t.Errorf("push handler not reached: called=%v status=%d", called, w.Code)
	}
}
