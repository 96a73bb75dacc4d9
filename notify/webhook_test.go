package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"news-pulse/models"
)

func testEvent() *AlertEvent {
	return &AlertEvent{
		TagID:       7,
		TagName:     "Bitcoin",
		AlertType:   models.AlertSpike,
		Severity:    models.SeverityHigh,
		Title:       "Mention spike: Bitcoin",
		Description: "12 mentions in the last hour",
		Metrics:     models.AlertMetrics{CurrentValue: 12, ChangePercent: 300},
		CreatedAt:   time.Now().UTC(),
	}
}

func TestWebhookSendSignsPayload(t *testing.T) {
	var (
		gotMethod      string
		gotContentType string
		gotSignature   string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotSignature = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, "s3cret", time.Second)
	if err := notifier.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected json content type, got %q", gotContentType)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Errorf("expected signature %q, got %q", want, gotSignature)
	}

	var delivered AlertEvent
	if err := json.Unmarshal(gotBody, &delivered); err != nil {
		t.Fatalf("unmarshal delivered payload: %v", err)
	}
	if delivered.TagID != 7 || delivered.Title != "Mention spike: Bitcoin" {
		t.Errorf("unexpected payload %+v", delivered)
	}
	if delivered.Metrics.CurrentValue != 12 {
		t.Errorf("expected metrics in payload, got %+v", delivered.Metrics)
	}
}

func TestWebhookSendWithoutSecret(t *testing.T) {
	var gotSignature string
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Signature-256")
		_, sawHeader = r.Header["X-Signature-256"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, "", time.Second)
	if err := notifier.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sawHeader || gotSignature != "" {
		t.Errorf("expected no signature header, got %q", gotSignature)
	}
}

func TestWebhookSendRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, "", time.Second)
	err := notifier.Send(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestWebhookSendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // sofort wieder zu: Verbindung schlägt fehl

	notifier := NewWebhookNotifier(srv.URL, "", time.Second)
	if err := notifier.Send(context.Background(), testEvent()); err == nil {
		t.Fatal("expected connection error")
	}
}

type failingNotifier struct{ err error }

func (f *failingNotifier) Name() string { return "failing" }

func (f *failingNotifier) Send(context.Context, *AlertEvent) error { return f.err }

type recordingNotifier struct{ events []*AlertEvent }

func (r *recordingNotifier) Name() string { return "recording" }
func (r *recordingNotifier) Send(_ context.Context, e *AlertEvent) error {
	r.events = append(r.events, e)
	return nil
}

func TestManagerBroadcastContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	failing := &failingNotifier{err: boom}
	recording := &recordingNotifier{}
	m := NewManager(zap.NewNop(), failing, recording)

	err := m.Broadcast(context.Background(), testEvent())
	if !errors.Is(err, boom) {
		t.Errorf("expected aggregated failure, got %v", err)
	}
	if len(recording.events) != 1 {
		t.Errorf("expected delivery to the healthy notifier, got %d events", len(recording.events))
	}
}

func TestManagerHasNotifiers(t *testing.T) {
	var nilManager *Manager
	if nilManager.HasNotifiers() {
		t.Error("nil manager must report no notifiers")
	}
	if err := nilManager.Broadcast(context.Background(), testEvent()); err != nil {
		t.Errorf("nil manager broadcast must be a no-op, got %v", err)
	}

	empty := NewManager(zap.NewNop())
	if empty.HasNotifiers() {
		t.Error("empty manager must report no notifiers")
	}

	empty.Register(&recordingNotifier{})
	if !empty.HasNotifiers() {
		t.Error("expected notifier after Register")
	}
}
