package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/bridge"
	"github.com/lalithlochan/beacon/internal/model"
	"github.com/lalithlochan/beacon/internal/notify"
	"github.com/lalithlochan/beacon/internal/upstream"
)

// fakeSource serves a fixed unread set, or fails.
type fakeSource struct {
	notifs []model.Notification
	err    error
	calls  int
}

func (f *fakeSource) UnreadNotifications(ctx context.Context, sess model.SessionState) ([]model.Notification, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !sess.Authenticated() {
		return nil, upstream.ErrUnauthorized
	}
	return f.notifs, nil
}

// fakeStorage is an in-memory device storage.
type fakeStorage struct {
	mu           sync.Mutex
	seen         map[string]struct{}
	lastCheck    time.Time
	lastCheckErr error
	purged       int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{seen: make(map[string]struct{})}
}

func (f *fakeStorage) AddSeenIDs(ctx context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.seen[id] = struct{}{}
	}
	return nil
}

func (f *fakeStorage) SeenIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.seen {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStorage) SetLastCheck(ctx context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCheck = t
	return nil
}

func (f *fakeStorage) LastCheck(ctx context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastCheckErr != nil {
		return time.Time{}, f.lastCheckErr
	}
	return f.lastCheck, nil
}

func (f *fakeStorage) PurgeStaleCaches(ctx context.Context, version string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged++
	return 0, nil
}

// recordingNotifier captures displayed alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*notify.Alert
}

func (r *recordingNotifier) Display(ctx context.Context, alert *notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingNotifier) Channel() string { return "recording" }

func (r *recordingNotifier) displayed() []*notify.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*notify.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

func newTestAgent(source UnreadSource, storage DeviceStorage, notifier notify.Notifier) (*Agent, *bridge.Bridge) {
	b := bridge.New(zap.NewNop())
	a := New(Config{
		Version: "v1",
		Origin:  "https://clinic.example",
		APIURL:  "https://api.example",
	}, b, source, storage, notifier, NewMemoryViews(), zap.NewNop())
	return a, b
}

func authenticate(t *testing.T, a *Agent) {
	t.Helper()
	a.handleMessage(context.Background(), bridge.UserAuthenticated{
		Token:  "abc",
		UserID: "user-1",
		APIURL: "https://api.example",
	})
}

func TestRunCheck_DisplaysUnseenOnly(t *testing.T) {
	n1 := model.Notification{ID: uuid.New(), Title: "Appointment", Status: model.StatusUnread}
	n2 := model.Notification{ID: uuid.New(), Title: "Referral", Status: model.StatusUnread}
	source := &fakeSource{notifs: []model.Notification{n1, n2}}
	storage := newFakeStorage()
	notifier := &recordingNotifier{}

	a, _ := newTestAgent(source, storage, notifier)
	a.install(context.Background())
	a.activate(context.Background())
	authenticate(t, a)

	a.runCheck(context.Background())
	if got := len(notifier.displayed()); got != 2 {
		t.Fatalf("expected 2 alerts on first check, got %d", got)
	}

	// Same unread set again: everything is in the seen-id set now
	a.runCheck(context.Background())
	if got := len(notifier.displayed()); got != 2 {
		t.Errorf("expected no duplicate alerts, got %d total", got)
	}

	// The set must be persisted for the next worker instance
	ids, _ := storage.SeenIDs(context.Background())
	if len(ids) != 2 {
		t.Errorf("expected 2 persisted seen ids, got %d", len(ids))
	}
}

func TestRunCheck_SeenSetSurvivesRestart(t *testing.T) {
	n := model.Notification{ID: uuid.New(), Title: "Appointment"}
	storage := newFakeStorage()
	_ = storage.AddSeenIDs(context.Background(), n.ID.String())

	source := &fakeSource{notifs: []model.Notification{n}}
	notifier := &recordingNotifier{}

	// A fresh instance loads the persisted set during install
	a, _ := newTestAgent(source, storage, notifier)
	a.install(context.Background())
	a.activate(context.Background())
	authenticate(t, a)

	a.runCheck(context.Background())
	if got := len(notifier.displayed()); got != 0 {
		t.Errorf("persisted seen id should suppress the alert, got %d", got)
	}
}

func TestRunCheck_NoTokenFailsSilently(t *testing.T) {
	source := &fakeSource{}
	notifier := &recordingNotifier{}

	a, _ := newTestAgent(source, newFakeStorage(), notifier)
	a.install(context.Background())
	a.activate(context.Background())

	// No USER_AUTHENTICATED bridged; the backend call fails unauthenticated
	a.handleMessage(context.Background(), bridge.CheckNotificationsNow{})

	if source.calls != 1 {
		t.Errorf("expected the backend call to be attempted, calls=%d", source.calls)
	}
	if got := len(notifier.displayed()); got != 0 {
		t.Errorf("expected no alerts without credentials, got %d", got)
	}
}

func TestRunCheck_BackendErrorRetriedNextTick(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}
	storage := newFakeStorage()

	a, _ := newTestAgent(source, storage, &recordingNotifier{})
	a.install(context.Background())
	a.activate(context.Background())
	authenticate(t, a)

	a.runCheck(context.Background())

	// The attempt is recorded so the next retry waits a full interval
	last, _ := storage.LastCheck(context.Background())
	if last.IsZero() {
		t.Error("expected last-check timestamp to be persisted on failure")
	}
}

func TestMaybeCheck_WallClockDueness(t *testing.T) {
	source := &fakeSource{}
	storage := newFakeStorage()
	_ = storage.SetLastCheck(context.Background(), time.Now())

	a, _ := newTestAgent(source, storage, &recordingNotifier{})
	a.install(context.Background())
	a.activate(context.Background())
	authenticate(t, a)

	// Not due yet
	a.maybeCheck(context.Background())
	if source.calls != 0 {
		t.Errorf("check should be skipped when not due, calls=%d", source.calls)
	}

	// Persisted timestamp far in the past: due
	_ = storage.SetLastCheck(context.Background(), time.Now().Add(-time.Hour))
	a.maybeCheck(context.Background())
	if source.calls != 1 {
		t.Errorf("check should run when due, calls=%d", source.calls)
	}
}

func TestMaybeCheck_StorageOutageKeepsCadence(t *testing.T) {
	source := &fakeSource{}
	storage := newFakeStorage()

	a, _ := newTestAgent(source, storage, &recordingNotifier{})
	a.install(context.Background())
	a.activate(context.Background())
	authenticate(t, a)

	a.runCheck(context.Background())
	if source.calls != 1 {
		t.Fatalf("expected 1 call after the initial check, got %d", source.calls)
	}

	// Storage reads start failing: the in-memory timestamp must keep the
	// interval, not degrade to a check on every tick
	storage.mu.Lock()
	storage.lastCheckErr = errors.New("storage unreachable")
	storage.mu.Unlock()

	a.maybeCheck(context.Background())
	a.maybeCheck(context.Background())
	if source.calls != 1 {
		t.Errorf("checks should stay on the interval during a storage outage, calls=%d", source.calls)
	}
}

func TestUserAuthenticated_Acked(t *testing.T) {
	a, _ := newTestAgent(&fakeSource{}, newFakeStorage(), &recordingNotifier{})

	reply := make(chan bridge.Ack, 1)
	a.handleMessage(context.Background(), bridge.UserAuthenticated{
		Token:  "abc",
		APIURL: "https://api",
		Reply:  reply,
	})

	select {
	case ack := <-reply:
		if ack.APIURL != "https://api" {
			t.Errorf("expected apiUrl https://api, got %q", ack.APIURL)
		}
		if !ack.TokenReceived {
			t.Error("expected tokenReceived=true")
		}
	default:
		t.Fatal("expected an ACK reply")
	}

	if sess := a.Session(); sess.Token != "abc" {
		t.Errorf("expected session token stored, got %q", sess.Token)
	}
}

func TestUserLoggedOut_ClearsToken(t *testing.T) {
	a, _ := newTestAgent(&fakeSource{}, newFakeStorage(), &recordingNotifier{})
	authenticate(t, a)

	a.handleMessage(context.Background(), bridge.UserLoggedOut{})

	if sess := a.Session(); sess.Token != "" {
		t.Error("worker must not retain a token after logout")
	}
}

func TestSkipWaiting_Activates(t *testing.T) {
	storage := newFakeStorage()
	a, _ := newTestAgent(&fakeSource{}, storage, &recordingNotifier{})
	a.install(context.Background())

	if a.State() != StateWaiting {
		t.Fatalf("expected waiting after install, got %s", a.State())
	}

	a.handleMessage(context.Background(), bridge.SkipWaiting{})

	if a.State() != StateActive {
		t.Errorf("expected active after skip-waiting, got %s", a.State())
	}
	if storage.purged != 1 {
		t.Errorf("activation should purge stale caches once, got %d", storage.purged)
	}

	// Repeated skip-waiting is idempotent
	a.handleMessage(context.Background(), bridge.SkipWaiting{})
	if storage.purged != 1 {
		t.Errorf("second activation should be a no-op, purges=%d", storage.purged)
	}
}

func TestHandlePush_JSONPayload(t *testing.T) {
	notifier := &recordingNotifier{}
	a, _ := newTestAgent(&fakeSource{}, newFakeStorage(), notifier)

	// No prior USER_AUTHENTICATED: push display must still work
	a.HandlePush(context.Background(), []byte(`{"title":"X","body":"Y"}`))

	alerts := notifier.displayed()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Title != "X" || alerts[0].Body != "Y" {
		t.Errorf("expected title X body Y, got %+v", alerts[0])
	}
}

func TestHandlePush_MalformedFallsBackToRawText(t *testing.T) {
	notifier := &recordingNotifier{}
	a, _ := newTestAgent(&fakeSource{}, newFakeStorage(), notifier)

	a.HandlePush(context.Background(), []byte("urgent: check triage queue"))

	alerts := notifier.displayed()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Title != defaultPushTitle {
		t.Errorf("expected fallback title, got %q", alerts[0].Title)
	}
	if alerts[0].Body != "urgent: check triage queue" {
		t.Errorf("expected raw text body, got %q", alerts[0].Body)
	}
}

func TestHandleClick_TargetResolution(t *testing.T) {
	a, _ := newTestAgent(&fakeSource{}, newFakeStorage(), &recordingNotifier{})

	tests := []struct {
		name string
		data *model.NotificationData
		want string
	}{
		{"explicit url", &model.NotificationData{URL: "https://other.example/x"}, "https://other.example/x"},
		{"path joined to origin", &model.NotificationData{Path: "/appointments/42"}, "https://clinic.example/appointments/42"},
		{"path without slash", &model.NotificationData{Path: "referrals"}, "https://clinic.example/referrals"},
		{"no data", nil, "https://clinic.example/"},
		{"empty data", &model.NotificationData{}, "https://clinic.example/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := a.HandleClick(tt.data)
			if err != nil {
				t.Fatalf("handle click: %v", err)
			}
			if target != tt.want {
				t.Errorf("expected %q, got %q", tt.want, target)
			}
		})
	}
}

func TestHandleClick_FocusesExactMatchFirst(t *testing.T) {
	views := NewMemoryViews()
	_ = views.Open("https://clinic.example/appointments/42")
	_ = views.Open("https://clinic.example/dashboard")

	b := bridge.New(zap.NewNop())
	a := New(Config{Origin: "https://clinic.example"}, b, &fakeSource{}, newFakeStorage(), &recordingNotifier{}, views, zap.NewNop())

	_, err := a.HandleClick(&model.NotificationData{Path: "/appointments/42"})
	if err != nil {
		t.Fatalf("handle click: %v", err)
	}

	open := views.List()
	if len(open) != 2 {
		t.Fatalf("exact match should be focused, not reopened; views=%v", open)
	}
	if open[0] != "https://clinic.example/appointments/42" {
		t.Errorf("expected matching view focused first, got %v", open)
	}
}

func TestStart_HandlesBridgedCheckNow(t *testing.T) {
	n := model.Notification{ID: uuid.New(), Title: "Lab results"}
	source := &fakeSource{notifs: []model.Notification{n}}
	notifier := &recordingNotifier{}

	b := bridge.New(zap.NewNop())
	a := New(Config{
		Version:       "v1",
		Origin:        "https://clinic.example",
		APIURL:        "https://api.example",
		CheckInterval: time.Hour,
		TickInterval:  time.Hour,
		TakeOver:      true,
	}, b, source, newFakeStorage(), notifier, NewMemoryViews(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Start(ctx)

	authCtx, authCancel := context.WithTimeout(context.Background(), time.Second)
	defer authCancel()
	if _, err := b.Authenticate(authCtx, "abc", "user-1", "https://api.example"); err != nil {
		t.Fatalf("authenticate over bridge: %v", err)
	}

	b.SendToWorker(bridge.CheckNotificationsNow{})

	deadline := time.After(time.Second)
	for len(notifier.displayed()) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a forced check to display the alert")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
