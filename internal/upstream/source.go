package upstream

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/model"
)

// SessionSource fetches unread notifications using whatever credentials the
// worker holds at call time. A fresh Client is built per call because the
// bridged token and API URL can change between checks (last-write-wins).
type SessionSource struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewSessionSource creates a source for the worker's periodic check.
func NewSessionSource(timeout time.Duration, logger *zap.Logger) *SessionSource {
	return &SessionSource{timeout: timeout, logger: logger}
}

// UnreadNotifications returns the current unread set for the session.
func (s *SessionSource) UnreadNotifications(ctx context.Context, sess model.SessionState) ([]model.Notification, error) {
	if !sess.Authenticated() {
		return nil, fmt.Errorf("no session bridged: %w", ErrUnauthorized)
	}

	client := New(Config{
		BaseURL: sess.APIURL,
		Token:   sess.Token,
		Timeout: s.timeout,
	}, s.logger)

	page, err := client.ListNotifications(ctx, ListQuery{
		Status: model.StatusUnread,
		Limit:  50,
	})
	if err != nil {
		return nil, err
	}

	return page.Items, nil
}
