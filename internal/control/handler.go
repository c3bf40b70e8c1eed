// Package control is the agent's local HTTP surface. The page process (the
// toast relay, a CLI, or curl) drives the worker through it: session
// hand-off, forced checks, the notification list, click routing, and the log
// tail.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/agent"
	"github.com/lalithlochan/beacon/internal/bridge"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/logstream"
	"github.com/lalithlochan/beacon/internal/model"
	"github.com/lalithlochan/beacon/internal/store"
	"github.com/lalithlochan/beacon/internal/upstream"
)

// listCacheKey names the cached last list response inside the versioned
// cache namespace.
const listCacheKey = "notifications:last"

// listCacheTTL bounds how stale an offline list response may be.
const listCacheTTL = 24 * time.Hour

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// SessionRequest is the page's session hand-off body.
type SessionRequest struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	APIURL string `json:"apiUrl"`
}

// ClickRequest carries a notification click for routing.
type ClickRequest struct {
	Data *model.NotificationData `json:"data"`
}

// SeenIDsRequest reports alerts the page has already surfaced itself.
type SeenIDsRequest struct {
	IDs []string `json:"ids"`
}

// TokenStore persists the page-side credential fallback and the seen-id set.
type TokenStore interface {
	SaveTokenFallback(ctx context.Context, token string) error
	ClearTokenFallback(ctx context.Context) error
	AddSeenIDs(ctx context.Context, ids ...string) error
}

// MirrorReader serves list reads from the durable mirror when the upstream
// is unreachable.
type MirrorReader interface {
	List(ctx context.Context, status string, limit int) ([]*db.CachedNotification, error)
	Get(ctx context.Context, id uuid.UUID) (*db.CachedNotification, error)
}

// CacheStore holds the versioned cached list response in device storage.
type CacheStore interface {
	CacheSet(ctx context.Context, version, key, value string, ttl time.Duration) error
	CacheGet(ctx context.Context, version, key string) (string, error)
}

// HandlerConfig wires the handler's collaborators. Logs, Tokens, Mirror, and
// Cache may be nil; the matching endpoints degrade.
type HandlerConfig struct {
	Bridge  *bridge.Bridge
	Agent   *agent.Agent
	Store   *store.Store
	Logs    *logstream.Client
	Tokens  TokenStore
	Mirror  MirrorReader
	Cache   CacheStore
	Version string
}

// Handler holds dependencies for the control endpoints.
type Handler struct {
	logger  *zap.Logger
	bridge  *bridge.Bridge
	agent   *agent.Agent
	store   *store.Store
	logs    *logstream.Client
	tokens  TokenStore
	mirror  MirrorReader
	cache   CacheStore
	version string
}

// NewHandler creates a control handler.
func NewHandler(logger *zap.Logger, cfg HandlerConfig) *Handler {
	return &Handler{
		logger:  logger,
		bridge:  cfg.Bridge,
		agent:   cfg.Agent,
		store:   cfg.Store,
		logs:    cfg.Logs,
		tokens:  cfg.Tokens,
		mirror:  cfg.Mirror,
		cache:   cfg.Cache,
		version: cfg.Version,
	}
}

// CreateSession handles POST /v1/session. The token is bridged to the worker
// and the worker's ACK is returned as the response body.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Token == "" || req.APIURL == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "token and apiUrl are required")
		return
	}

	ackCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ack, err := h.bridge.Authenticate(ackCtx, req.Token, req.UserID, req.APIURL)
	if err != nil {
		h.logger.Warn("session hand-off not acknowledged", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "worker_unavailable", "Worker did not acknowledge the session", "")
		return
	}

	if h.tokens != nil {
		if err := h.tokens.SaveTokenFallback(ctx, req.Token); err != nil {
			h.logger.Warn("token fallback not persisted", zap.Error(err))
		}
	}

	h.logger.Info("session handed to worker", zap.String("api_url", req.APIURL))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

// DeleteSession handles DELETE /v1/session: logout. Both the worker's copy
// and the persisted fallback are cleared.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.bridge.SendToWorker(bridge.UserLoggedOut{})

	if h.tokens != nil {
		if err := h.tokens.ClearTokenFallback(r.Context()); err != nil {
			h.logger.Warn("token fallback not cleared", zap.Error(err))
		}
	}

	h.logger.Info("session cleared")
	w.WriteHeader(http.StatusNoContent)
}

// ForceCheck handles POST /v1/check.
func (h *Handler) ForceCheck(w http.ResponseWriter, r *http.Request) {
	if !h.bridge.SendToWorker(bridge.CheckNotificationsNow{}) {
		h.writeError(w, http.StatusServiceUnavailable, "worker_unavailable", "Worker is not accepting messages", "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SkipWaiting handles POST /v1/skip-waiting: promote a waiting worker.
func (h *Handler) SkipWaiting(w http.ResponseWriter, r *http.Request) {
	if !h.bridge.SendToWorker(bridge.SkipWaiting{}) {
		h.writeError(w, http.StatusServiceUnavailable, "worker_unavailable", "Worker is not accepting messages", "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ReportSeenIDs handles POST /v1/seen-ids: the page reports alerts it has
// already surfaced (the toast relay confirms displays back). The set is
// persisted and forwarded to the worker so neither side re-alerts.
func (h *Handler) ReportSeenIDs(w http.ResponseWriter, r *http.Request) {
	var req SeenIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing ids", "at least one notification id is required")
		return
	}

	if h.tokens != nil {
		if err := h.tokens.AddSeenIDs(r.Context(), req.IDs...); err != nil {
			h.logger.Warn("seen-id set not persisted", zap.Error(err))
		}
	}

	h.bridge.SendToWorker(bridge.SaveSeenIDs{IDs: req.IDs})

	w.WriteHeader(http.StatusNoContent)
}

// ListNotifications handles GET /v1/notifications. The store is refreshed
// with the requested filter; a cursor continues a previous page walk. When
// the upstream is unreachable the response degrades to the durable mirror,
// then to the last cached response in device storage.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	filter := store.Filter{
		Status:   r.URL.Query().Get("status"),
		Category: r.URL.Query().Get("category"),
		Limit:    limit,
	}
	cursor := r.URL.Query().Get("cursor")

	if err := h.store.Fetch(ctx, filter, cursor); err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Backend rejected the session", "")
			return
		}
		h.logger.Warn("notification fetch failed, serving offline copy", zap.Error(err))
		h.serveOfflineList(w, r, filter.Status, limit)
		return
	}

	h.store.RefreshUnreadCount(ctx)

	body, err := json.Marshal(map[string]interface{}{
		"items":       h.store.Items(),
		"unreadCount": h.store.UnreadCount(),
		"hasMore":     h.store.HasMore(),
		"stale":       false,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "encoding_error", "Failed to encode notifications", "")
		return
	}

	// Keep a copy for offline degradation; purged with the namespace on
	// version rollover
	if h.cache != nil {
		if err := h.cache.CacheSet(ctx, h.version, listCacheKey, string(body), listCacheTTL); err != nil {
			h.logger.Warn("list response not cached", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// serveOfflineList answers a list request from the mirror, then from the
// cached last response, when the upstream is down.
func (h *Handler) serveOfflineList(w http.ResponseWriter, r *http.Request, status string, limit int) {
	ctx := r.Context()

	if h.mirror != nil {
		notifs, err := h.mirror.List(ctx, status, limit)
		if err != nil {
			h.logger.Warn("mirror list failed", zap.Error(err))
		} else {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"items":       notifs,
				"unreadCount": h.store.UnreadCount(),
				"hasMore":     false,
				"stale":       true,
			})
			return
		}
	}

	if h.cache != nil {
		cached, err := h.cache.CacheGet(ctx, h.version, listCacheKey)
		if err != nil {
			h.logger.Warn("cached list lookup failed", zap.Error(err))
		} else if cached != "" {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Beacon-Stale", "true")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(cached))
			return
		}
	}

	h.writeError(w, http.StatusBadGateway, "upstream_error", "Failed to fetch notifications and no offline copy exists", "")
}

// GetNotification handles GET /v1/notifications/{id}: the held list first,
// the mirror second.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	for _, n := range h.store.Items() {
		if n.ID == id {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(n)
			return
		}
	}

	if h.mirror != nil {
		cached, err := h.mirror.Get(r.Context(), id)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(cached)
			return
		}
	}

	h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
}

// MarkRead handles POST /v1/notifications/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.store.MarkAsRead(r.Context(), id); err != nil {
		h.logger.Warn("mark-read failed", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusBadGateway, "upstream_error", "Failed to mark notification read", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /v1/notifications/read-all.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.store.MarkAllAsRead(r.Context()); err != nil {
		h.logger.Warn("mark-all-read failed", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "upstream_error", "Failed to mark notifications read", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Archive handles DELETE /v1/notifications/{id}. The entry is gone from the
// local list regardless of the upstream outcome, so the failure status is
// informational.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.store.Archive(r.Context(), id); err != nil {
		h.logger.Warn("archive failed upstream", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusBadGateway, "upstream_error", "Archived locally, upstream call failed", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleClick handles POST /v1/clicks: resolve the navigation target and
// focus or open a view for it.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	target, err := h.agent.HandleClick(req.Data)
	if err != nil {
		h.logger.Warn("click routing failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "click_error", "Failed to route the click", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"target": target})
}

// GetLogs handles GET /v1/logs: the retained tail plus stream state.
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		h.writeError(w, http.StatusNotFound, "stream_disabled", "Log streaming is not enabled", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"state":   h.logs.State().String(),
		"paused":  h.logs.Paused(),
		"entries": h.logs.Entries(),
	})
}

// PauseLogs handles POST /v1/logs/pause.
func (h *Handler) PauseLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		h.writeError(w, http.StatusNotFound, "stream_disabled", "Log streaming is not enabled", "")
		return
	}
	h.logs.Pause()
	w.WriteHeader(http.StatusNoContent)
}

// ResumeLogs handles POST /v1/logs/resume.
func (h *Handler) ResumeLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		h.writeError(w, http.StatusNotFound, "stream_disabled", "Log streaming is not enabled", "")
		return
	}
	h.logs.Resume()
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /v1/status: the worker snapshot.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.agent.Status())
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
