package alerting

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// noopValidator allows any URL (including loopback) for test servers.
func noopValidator(_ string) error { return nil }

func newTestWebhookNotifier(t *testing.T, advocateURL, userURL string) *WebhookNotifier {
	t.Helper()
	w, err := NewWebhookNotifier("", "", "test_webhook_secret", quietLogger())
	if err != nil {
		t.Fatalf("NewWebhookNotifier failed: %v", err)
	}
	w.advocateURL = advocateURL
	w.userURL = userURL
	w.urlValidator = noopValidator
	return w
}

func advocateNotification() *Notification {
	return &Notification{
		AlertID:     "alert_wh1",
		CaregiverID: "cg-1",
		UserID:      "elder-1",
		AlertType:   TypeSafetyCompromise,
		Urgency:     UrgencyImmediate,
		Message:     "CRITICAL abuse risk for caregiver cg-1.",
	}
}

func TestWebhookNotifier_SignsPayload(t *testing.T) {
	var mu sync.Mutex
	var gotSig, gotKind, gotTimestamp string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-ElderGuard-Signature")
		gotKind = r.Header.Get("X-ElderGuard-Kind")
		gotTimestamp = r.Header.Get("X-ElderGuard-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	n := newTestWebhookNotifier(t, server.URL, server.URL)
	if err := n.NotifyAdvocate(context.Background(), advocateNotification()); err != nil {
		t.Fatalf("NotifyAdvocate failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if gotSig == "" {
		t.Fatal("Expected signature header")
	}
	if !strings.HasPrefix(gotSig, "sha256=") {
		t.Fatalf("Expected sha256= prefix, got %s", gotSig)
	}

	h := hmac.New(sha256.New, []byte("test_webhook_secret"))
	h.Write(gotBody)
	expected := "sha256=" + hex.EncodeToString(h.Sum(nil))
	if gotSig != expected {
		t.Errorf("Signature mismatch: %s != %s", gotSig, expected)
	}

	if gotKind != "advocate_notification" {
		t.Errorf("Expected kind advocate_notification, got %s", gotKind)
	}
	if gotTimestamp == "" {
		t.Error("Expected timestamp header")
	}
}

func TestWebhookNotifier_AdvocatePayloadFormat(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	n := newTestWebhookNotifier(t, server.URL, "")
	if err := n.NotifyAdvocate(context.Background(), advocateNotification()); err != nil {
		t.Fatalf("NotifyAdvocate failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	var parsed map[string]any
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("Failed to parse payload: %v", err)
	}
	if parsed["kind"] != "advocate_notification" {
		t.Errorf("Expected kind advocate_notification, got %v", parsed["kind"])
	}
	if parsed["alertId"] != "alert_wh1" || parsed["caregiverId"] != "cg-1" {
		t.Errorf("Expected alert context in advocate payload, got %v", parsed)
	}
	if parsed["urgency"] != "IMMEDIATE" {
		t.Errorf("Expected IMMEDIATE urgency, got %v", parsed["urgency"])
	}
}

func TestWebhookNotifier_UserPayloadOmitsAlertContext(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotKind string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotKind = r.Header.Get("X-ElderGuard-Kind")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	n := newTestWebhookNotifier(t, "", server.URL)
	if err := n.NotifyUser(context.Background(), advocateNotification()); err != nil {
		t.Fatalf("NotifyUser failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if gotKind != "user_notice" {
		t.Errorf("Expected kind user_notice, got %s", gotKind)
	}

	var parsed map[string]any
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("Failed to parse payload: %v", err)
	}
	// The elder's channel must not leak alert context: no caregiver,
	// no alert id, no alert type.
	for _, key := range []string{"caregiverId", "alertId", "alertType", "urgency"} {
		if _, ok := parsed[key]; ok {
			t.Errorf("User payload must not contain %q, got %v", key, parsed)
		}
	}
	if parsed["userId"] != "elder-1" {
		t.Errorf("Expected userId in payload, got %v", parsed)
	}
	if parsed["message"] == "" {
		t.Error("Expected message in payload")
	}
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	n := newTestWebhookNotifier(t, server.URL, "")
	if err := n.NotifyAdvocate(context.Background(), advocateNotification()); err != nil {
		t.Fatalf("Expected success after retry, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 requests (one retry), got %d", calls.Load())
	}
}

func TestWebhookNotifier_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(400)
	}))
	defer server.Close()

	n := newTestWebhookNotifier(t, server.URL, "")
	if err := n.NotifyAdvocate(context.Background(), advocateNotification()); err == nil {
		t.Fatal("Expected error on 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 request for a 4xx, got %d", calls.Load())
	}
}

func TestWebhookNotifier_EmptyURLSkips(t *testing.T) {
	n := newTestWebhookNotifier(t, "", "")
	if err := n.NotifyAdvocate(context.Background(), advocateNotification()); err != nil {
		t.Errorf("Empty advocate URL should be a no-op, got %v", err)
	}
	if err := n.NotifyUser(context.Background(), advocateNotification()); err != nil {
		t.Errorf("Empty user URL should be a no-op, got %v", err)
	}
}

func TestWebhookNotifier_CircuitOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(400)
	}))
	defer server.Close()

	n := newTestWebhookNotifier(t, server.URL, "")
	ctx := context.Background()

	// Five consecutive failures trip the breaker.
	for i := 0; i < 5; i++ {
		if err := n.NotifyAdvocate(ctx, advocateNotification()); err == nil {
			t.Fatalf("Delivery %d should fail", i+1)
		}
	}
	before := calls.Load()

	err := n.NotifyAdvocate(ctx, advocateNotification())
	if err == nil {
		t.Fatal("Expected circuit-open error")
	}
	if !strings.Contains(err.Error(), "circuit open") {
		t.Errorf("Expected circuit open error, got %v", err)
	}
	if calls.Load() != before {
		t.Error("Open circuit should not let requests through")
	}
}

func TestWebhookNotifier_RejectsLoopbackURL(t *testing.T) {
	_, err := NewWebhookNotifier("http://127.0.0.1:9999/hook", "", "", quietLogger())
	if err == nil {
		t.Fatal("Expected loopback advocate URL to be rejected")
	}
	_, err = NewWebhookNotifier("", "http://localhost/hook", "", quietLogger())
	if err == nil {
		t.Fatal("Expected localhost user URL to be rejected")
	}
}
