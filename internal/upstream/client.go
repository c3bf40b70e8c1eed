// Package upstream is the REST client for the backend notification API.
// The backend itself is out of scope; this package only speaks its contract.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/model"
)

// ErrUnauthorized indicates the bridged token was missing, expired, or
// rejected. Background callers log it and wait for the next tick.
var ErrUnauthorized = errors.New("upstream rejected credentials")

// Config holds the connection settings for one authenticated client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the notification backend on behalf of one session.
// It is immutable; build a fresh client when the session changes.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *zap.Logger
}

// New creates a client for the given session credentials.
func New(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		logger:     logger,
	}
}

// ListQuery filters a notification page fetch.
type ListQuery struct {
	Status   string
	Category string
	Limit    int
	After    string // pagination cursor
}

// NotificationPage is one page of notifications plus the cursor for the next.
type NotificationPage struct {
	Items      []model.Notification `json:"items"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// ListNotifications fetches a page of notifications.
func (c *Client) ListNotifications(ctx context.Context, q ListQuery) (*NotificationPage, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.After != "" {
		params.Set("after", q.After)
	}

	path := "/notifications"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page NotificationPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}

	return &page, nil
}

// UnreadCount fetches the lightweight unread counter.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead marks a single notification as read.
func (c *Client) MarkRead(ctx context.Context, id uuid.UUID) error {
	body := map[string]bool{"read": true}
	return c.do(ctx, http.MethodPatch, "/notifications/"+id.String()+"/read", body, nil)
}

// MarkAllRead marks every notification for the session's user as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/notifications/read-all", nil, nil)
}

// Archive soft-deletes a notification server-side.
func (c *Client) Archive(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+id.String(), nil, nil)
}

// PushKeys are the encryption keys registered with a push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription registers a delivery endpoint for push payloads.
type PushSubscription struct {
	Endpoint  string   `json:"endpoint"`
	Keys      PushKeys `json:"keys"`
	UserAgent string   `json:"userAgent"`
}

// SubscribePush registers this agent's push delivery endpoint and returns
// the subscription id.
func (c *Client) SubscribePush(ctx context.Context, sub PushSubscription) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/push/subscribe", sub, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UnsubscribePush removes this agent's push subscription.
func (c *Client) UnsubscribePush(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/push/subscribe", nil, nil)
}

// StreamURL returns the SSE log stream endpoint with token auth attached.
func (c *Client) StreamURL() string {
	u := c.baseURL + "/triggers/logs/stream"
	if c.token != "" {
		u += "?token=" + url.QueryEscape(c.token)
	}
	return u
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(preview))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
