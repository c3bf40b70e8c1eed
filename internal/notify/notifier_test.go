package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// fakeNotifier records displays and optionally fails.
type fakeNotifier struct {
	channel    string
	shouldFail bool
	displayed  []*Alert
}

func (f *fakeNotifier) Display(ctx context.Context, alert *Alert) error {
	if f.shouldFail {
		return errors.New("channel down")
	}
	f.displayed = append(f.displayed, alert)
	return nil
}

func (f *fakeNotifier) Channel() string { return f.channel }

func TestMultiNotifier_FansOut(t *testing.T) {
	a := &fakeNotifier{channel: "a"}
	b := &fakeNotifier{channel: "b"}
	multi := NewMultiNotifier(zap.NewNop(), a, b)

	alert := &Alert{ID: "n-1", Title: "Referral approved"}
	if err := multi.Display(context.Background(), alert); err != nil {
		t.Fatalf("display: %v", err)
	}

	if len(a.displayed) != 1 || len(b.displayed) != 1 {
		t.Errorf("expected both channels to display, got a=%d b=%d", len(a.displayed), len(b.displayed))
	}
}

func TestMultiNotifier_PartialFailureIsSilent(t *testing.T) {
	down := &fakeNotifier{channel: "down", shouldFail: true}
	up := &fakeNotifier{channel: "up"}
	multi := NewMultiNotifier(zap.NewNop(), down, up)

	if err := multi.Display(context.Background(), &Alert{Title: "X"}); err != nil {
		t.Fatalf("one working channel should be enough, got: %v", err)
	}
	if len(up.displayed) != 1 {
		t.Errorf("working channel should have displayed the alert")
	}
}

func TestMultiNotifier_AllFailed(t *testing.T) {
	down := &fakeNotifier{channel: "down", shouldFail: true}
	multi := NewMultiNotifier(zap.NewNop(), down)

	if err := multi.Display(context.Background(), &Alert{Title: "X"}); err == nil {
		t.Fatal("expected error when every channel fails")
	}
}

func TestMultiNotifier_NoChannelsIsNoop(t *testing.T) {
	multi := NewMultiNotifier(zap.NewNop())

	// Permission-denied equivalent: no channels, no error
	if err := multi.Display(context.Background(), &Alert{Title: "X"}); err != nil {
		t.Fatalf("expected silent no-op, got: %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	if err := n.Display(context.Background(), &Alert{ID: "n-1", Title: "Test"}); err != nil {
		t.Fatalf("log display: %v", err)
	}
	if n.Channel() != "log" {
		t.Errorf("unexpected channel: %s", n.Channel())
	}
}

func TestWebhookNotifier_PostsAlert(t *testing.T) {
	var received Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Beacon-Alert-ID"); got != "n-1" {
			t.Errorf("expected alert id header, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode alert: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, zap.NewNop())

	alert := &Alert{ID: "n-1", Title: "Lab results ready", Tag: "lab-42"}
	if err := n.Display(context.Background(), alert); err != nil {
		t.Fatalf("webhook display: %v", err)
	}
	if received.Title != "Lab results ready" {
		t.Errorf("relay received wrong alert: %+v", received)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, zap.NewNop())

	if err := n.Display(context.Background(), &Alert{Title: "X"}); err == nil {
		t.Fatal("expected error on non-2xx relay response")
	}
}
