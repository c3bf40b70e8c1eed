// Package agent is the background worker controller. It runs independently
// of any open dashboard view, periodically asks the backend for unread
// notifications, suppresses duplicates via the seen-id set, and surfaces the
// rest through the configured display channels. It also handles
// push-delivered payloads and click-to-navigate.
package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/bridge"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/model"
	"github.com/lalithlochan/beacon/internal/notify"
)

// defaultPushTitle is used when a push payload cannot be parsed and the raw
// text becomes the body.
const defaultPushTitle = "New notification"

// UnreadSource fetches the current unread notifications for a session.
type UnreadSource interface {
	UnreadNotifications(ctx context.Context, sess model.SessionState) ([]model.Notification, error)
}

// DeviceStorage is the slice of the shared advisory storage the worker uses.
type DeviceStorage interface {
	AddSeenIDs(ctx context.Context, ids ...string) error
	SeenIDs(ctx context.Context) ([]string, error)
	SetLastCheck(ctx context.Context, t time.Time) error
	LastCheck(ctx context.Context) (time.Time, error)
	PurgeStaleCaches(ctx context.Context, version string) (int, error)
}

type Config struct {
	Version       string        // cache namespace tag for this deployment
	Origin        string        // site origin for click navigation fallbacks
	APIURL        string        // default API base, replaced by bridged value
	CheckInterval time.Duration // periodic check cadence
	TickInterval  time.Duration // due-ness evaluation granularity
	TakeOver      bool          // activate immediately on install
}

// Agent is one worker instance. All lifecycle and session mutation happens
// on the goroutine running Start; the mutex only guards snapshot reads from
// the control API.
type Agent struct {
	cfg      Config
	logger   *zap.Logger
	bridge   *bridge.Bridge
	source   UnreadSource
	storage  DeviceStorage
	notifier notify.Notifier
	views    ViewRegistry

	mu      sync.RWMutex
	state   State
	session model.SessionState
	seen    map[string]struct{}

	// lastCheck shadows the persisted timestamp so the cadence holds when
	// storage reads fail. Only touched on the Start goroutine.
	lastCheck time.Time
}

// New creates a worker instance in the installing state.
func New(cfg Config, b *bridge.Bridge, source UnreadSource, storage DeviceStorage, notifier notify.Notifier, views ViewRegistry, logger *zap.Logger) *Agent {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Minute
	}

	return &Agent{
		cfg:      cfg,
		logger:   logger,
		bridge:   b,
		source:   source,
		storage:  storage,
		notifier: notifier,
		views:    views,
		state:    StateInstalling,
		session:  model.SessionState{APIURL: cfg.APIURL},
		seen:     make(map[string]struct{}),
	}
}

// Start runs the worker event loop until the context is cancelled. The
// periodic check is owned by this loop and dies with it; no timers leak
// across worker restarts.
func (a *Agent) Start(ctx context.Context) {
	a.install(ctx)

	if a.cfg.TakeOver {
		a.activate(ctx)
	}

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("worker stopping")
			return
		case <-ticker.C:
			a.maybeCheck(ctx)
		case msg := <-a.bridge.Worker():
			a.handleMessage(ctx, msg)
		}
	}
}

// install loads the persisted seen-id set, preferring the page's copy over a
// direct storage read so a freshly bridged set wins.
func (a *Agent) install(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	ids, err := a.bridge.RequestSeenIDs(reqCtx)
	cancel()

	if err != nil {
		ids, err = a.storage.SeenIDs(ctx)
		if err != nil {
			a.logger.Warn("could not load seen-id set, starting empty", zap.Error(err))
			ids = nil
		}
	}

	a.mu.Lock()
	for _, id := range ids {
		a.seen[id] = struct{}{}
	}
	a.state = StateWaiting
	a.mu.Unlock()

	a.logger.Info("worker installed",
		zap.String("version", a.cfg.Version),
		zap.Int("seen_ids", len(ids)),
	)
}

// activate purges every cache namespace except this version's, then starts
// serving. At most one active instance exists per process.
func (a *Agent) activate(ctx context.Context) {
	a.mu.Lock()
	if a.state == StateActive {
		a.mu.Unlock()
		return
	}
	a.state = StateActive
	a.mu.Unlock()

	purged, err := a.storage.PurgeStaleCaches(ctx, a.cfg.Version)
	if err != nil {
		a.logger.Warn("cache purge failed", zap.Error(err))
	}

	a.logger.Info("worker activated",
		zap.String("version", a.cfg.Version),
		zap.Int("purged_caches", purged),
	)
}

// maybeCheck runs the periodic check when the persisted last-check timestamp
// says it is due. Reading the persisted value each tick makes the schedule
// self-correcting across worker restarts.
func (a *Agent) maybeCheck(ctx context.Context) {
	if a.State() != StateActive {
		return
	}

	last, err := a.storage.LastCheck(ctx)
	if err != nil {
		a.logger.Warn("could not read last-check timestamp", zap.Error(err))
		last = a.lastCheck
	}

	if time.Since(last) < a.cfg.CheckInterval {
		return
	}

	a.runCheck(ctx)
}

// runCheck fetches unread notifications and displays every one not already
// in the seen-id set. Failures are logged and silently retried on the next
// due tick; nothing is surfaced to the user.
func (a *Agent) runCheck(ctx context.Context) {
	// Record the attempt up front so a failing backend is retried on the
	// next due interval, not on every tick.
	a.lastCheck = time.Now()
	if err := a.storage.SetLastCheck(ctx, a.lastCheck); err != nil {
		a.logger.Warn("could not persist last-check timestamp", zap.Error(err))
	}

	sess := a.Session()
	if sess.Token == "" {
		// The page may hold a fallback credential the worker never saw
		reqCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		token, err := a.bridge.RequestToken(reqCtx)
		cancel()
		if err == nil && token != "" {
			a.mu.Lock()
			a.session.Token = token
			sess = a.session
			a.mu.Unlock()
		}
	}

	notifs, err := a.source.UnreadNotifications(ctx, sess)
	if err != nil {
		a.logger.Warn("notification check failed", zap.Error(err))
		metrics.RecordCheck("error")
		return
	}

	var newIDs []string
	for i := range notifs {
		n := &notifs[i]
		id := n.ID.String()

		a.mu.RLock()
		_, dup := a.seen[id]
		a.mu.RUnlock()
		if dup {
			metrics.RecordDuplicateSuppressed()
			continue
		}

		if err := a.notifier.Display(ctx, a.alertFrom(n)); err != nil {
			a.logger.Warn("alert display failed",
				zap.String("id", id),
				zap.Error(err),
			)
		}

		a.mu.Lock()
		a.seen[id] = struct{}{}
		a.mu.Unlock()
		newIDs = append(newIDs, id)
	}

	if len(newIDs) > 0 {
		if err := a.storage.AddSeenIDs(ctx, newIDs...); err != nil {
			a.logger.Warn("could not persist seen-id set", zap.Error(err))
		}
	}

	metrics.RecordCheck("ok")
	a.logger.Info("notification check complete",
		zap.Int("unread", len(notifs)),
		zap.Int("displayed", len(newIDs)),
	)
}

// handleMessage dispatches one bridged message. The switch is exhaustive
// over every page-originated message type.
func (a *Agent) handleMessage(ctx context.Context, msg bridge.Message) {
	switch m := msg.(type) {
	case bridge.UserAuthenticated:
		// Last write wins on the session value
		a.mu.Lock()
		a.session = model.SessionState{
			Token:  m.Token,
			UserID: m.UserID,
			APIURL: m.APIURL,
		}
		a.mu.Unlock()

		a.logger.Info("session bridged",
			zap.String("api_url", m.APIURL),
			zap.Bool("token_received", m.Token != ""),
		)

		if m.Reply != nil {
			select {
			case m.Reply <- bridge.Ack{APIURL: m.APIURL, TokenReceived: m.Token != ""}:
			default:
			}
		}

	case bridge.UserLoggedOut:
		a.mu.Lock()
		a.session.Token = ""
		a.session.UserID = ""
		a.mu.Unlock()
		a.logger.Info("session cleared on logout")

	case bridge.CheckNotificationsNow:
		a.runCheck(ctx)

	case bridge.SkipWaiting:
		a.activate(ctx)

	case bridge.SaveSeenIDs:
		a.mu.Lock()
		for _, id := range m.IDs {
			a.seen[id] = struct{}{}
		}
		a.mu.Unlock()

	default:
		a.logger.Warn("unhandled message on worker side")
	}
}

type pushPayload struct {
	Title string                  `json:"title"`
	Body  string                  `json:"body"`
	Data  *model.NotificationData `json:"data"`
}

// HandlePush displays a push-delivered payload immediately. Push payloads
// are assumed distinct from polled notifications, so the seen-id set is
// neither consulted nor updated. A payload that fails to parse becomes the
// body of a generic alert rather than an error.
func (a *Agent) HandlePush(ctx context.Context, payload []byte) {
	var p pushPayload
	alert := &notify.Alert{}

	if err := json.Unmarshal(payload, &p); err != nil || p.Title == "" {
		alert.Title = defaultPushTitle
		alert.Body = strings.TrimSpace(string(payload))
		metrics.RecordPushReceived("raw")
	} else {
		alert.Title = p.Title
		alert.Body = p.Body
		if p.Data != nil {
			alert.Tag = p.Data.Tag
			alert.TargetURL = a.resolveTarget(p.Data)
		}
		metrics.RecordPushReceived("json")
	}

	if err := a.notifier.Display(ctx, alert); err != nil {
		a.logger.Warn("push alert display failed", zap.Error(err))
	}
}

// HandleClick routes a notification click: focus the first open view whose
// URL exactly matches the target, otherwise open a new one. Returns the
// resolved target.
func (a *Agent) HandleClick(data *model.NotificationData) (string, error) {
	target := a.resolveTarget(data)

	for _, u := range a.views.List() {
		if u == target {
			return target, a.views.Focus(target)
		}
	}

	return target, a.views.Open(target)
}

// resolveTarget computes the navigation URL: explicit url, else path joined
// to the origin, else the origin root.
func (a *Agent) resolveTarget(data *model.NotificationData) string {
	origin := strings.TrimRight(a.cfg.Origin, "/")

	if data == nil {
		return origin + "/"
	}
	if data.URL != "" {
		return data.URL
	}
	if data.Path != "" {
		path := data.Path
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return origin + path
	}

	return origin + "/"
}

func (a *Agent) alertFrom(n *model.Notification) *notify.Alert {
	alert := &notify.Alert{
		ID:                 n.ID.String(),
		Title:              n.Title,
		Body:               n.Body,
		Priority:           n.Priority,
		RequireInteraction: n.Priority == "high",
		TargetURL:          a.resolveTarget(n.Data),
	}
	if n.Data != nil {
		alert.Tag = n.Data.Tag
	}
	if alert.Tag == "" {
		alert.Tag = n.ID.String()
	}
	return alert
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Session returns a snapshot of the bridged session.
func (a *Agent) Session() model.SessionState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// Snapshot is the control API's view of the worker.
type Snapshot struct {
	State         string `json:"state"`
	Authenticated bool   `json:"authenticated"`
	APIURL        string `json:"api_url"`
	SeenIDs       int    `json:"seen_ids"`
}

// Status reports the worker's current condition without exposing the token.
func (a *Agent) Status() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		State:         a.state.String(),
		Authenticated: a.session.Token != "",
		APIURL:        a.session.APIURL,
		SeenIDs:       len(a.seen),
	}
}
