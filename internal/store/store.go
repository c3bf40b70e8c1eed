// Package store keeps the in-memory notification list the control surface
// serves. Mutations are optimistic: the local copy changes first and rolls
// back when the backend rejects the call.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/model"
	"github.com/lalithlochan/beacon/internal/upstream"
)

// DefaultRefreshInterval is the auto-refresh cadence.
const DefaultRefreshInterval = 30 * time.Second

// Backend is the slice of the upstream API the store calls.
type Backend interface {
	ListNotifications(ctx context.Context, q upstream.ListQuery) (*upstream.NotificationPage, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context) error
	Archive(ctx context.Context, id uuid.UUID) error
}

// Mirror is an optional durable copy of fetched pages. A nil mirror disables
// mirroring entirely.
type Mirror interface {
	Upsert(ctx context.Context, notifs []model.Notification) error
	MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error
	MarkAllRead(ctx context.Context, readAt time.Time) error
	Archive(ctx context.Context, id uuid.UUID) error
}

// Filter is the list query the store currently holds a page set for.
type Filter struct {
	Status   string
	Category string
	Limit    int
}

// Store holds the fetched notification list, the unread counter, and the
// pagination cursor. Safe for concurrent use.
type Store struct {
	backend Backend
	mirror  Mirror
	logger  *zap.Logger

	mu         sync.RWMutex
	items      []model.Notification
	unread     int
	nextCursor string
	filter     Filter
}

func New(backend Backend, mirror Mirror, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		mirror:  mirror,
		logger:  logger,
	}
}

// Fetch loads a page for the given filter. An empty cursor replaces the held
// list; a cursor appends to it, so callers can page through long histories.
func (s *Store) Fetch(ctx context.Context, filter Filter, cursor string) error {
	page, err := s.backend.ListNotifications(ctx, upstream.ListQuery{
		Status:   filter.Status,
		Category: filter.Category,
		Limit:    filter.Limit,
		After:    cursor,
	})
	if err != nil {
		metrics.RecordStoreRefresh("error")
		return err
	}

	s.mu.Lock()
	if cursor == "" {
		s.items = page.Items
	} else {
		s.items = append(s.items, page.Items...)
	}
	s.nextCursor = page.NextCursor
	s.filter = filter
	s.mu.Unlock()

	s.mirrorUpsert(ctx, page.Items)
	metrics.RecordStoreRefresh("ok")
	return nil
}

// LoadMore fetches the next page using the held cursor. A no-op when the
// previous fetch was the last page.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.RLock()
	cursor := s.nextCursor
	filter := s.filter
	s.mu.RUnlock()

	if cursor == "" {
		return nil
	}
	return s.Fetch(ctx, filter, cursor)
}

// RefreshUnreadCount re-fetches the unread counter. Failures leave the
// current value stale rather than surfacing an error.
func (s *Store) RefreshUnreadCount(ctx context.Context) {
	count, err := s.backend.UnreadCount(ctx)
	if err != nil {
		s.logger.Debug("unread count refresh failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.unread = count
	s.mu.Unlock()
}

// MarkAsRead marks one notification read, applying the local change before
// the network call. When the backend rejects it the local change is rolled
// back and the error returned.
func (s *Store) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	now := time.Now()

	s.mu.Lock()
	var prev *model.Notification
	for i := range s.items {
		if s.items[i].ID == id {
			saved := s.items[i]
			prev = &saved
			s.items[i].Status = model.StatusRead
			s.items[i].ReadAt = &now
			break
		}
	}
	wasUnread := prev != nil && prev.Status == model.StatusUnread
	if wasUnread && s.unread > 0 {
		s.unread--
	}
	s.mu.Unlock()

	if err := s.backend.MarkRead(ctx, id); err != nil {
		s.mu.Lock()
		if prev != nil {
			for i := range s.items {
				if s.items[i].ID == id {
					s.items[i] = *prev
					break
				}
			}
		}
		if wasUnread {
			s.unread++
		}
		s.mu.Unlock()
		return err
	}

	if s.mirror != nil {
		if err := s.mirror.MarkRead(ctx, id, now); err != nil {
			s.logger.Warn("mirror mark-read failed", zap.Error(err))
		}
	}
	return nil
}

// MarkAllAsRead marks every held notification read and zeroes the unread
// counter. On backend failure the previous list and counter are restored.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	now := time.Now()

	s.mu.Lock()
	prevItems := make([]model.Notification, len(s.items))
	copy(prevItems, s.items)
	prevUnread := s.unread

	for i := range s.items {
		if s.items[i].Status == model.StatusUnread {
			s.items[i].Status = model.StatusRead
			s.items[i].ReadAt = &now
		}
	}
	s.unread = 0
	s.mu.Unlock()

	if err := s.backend.MarkAllRead(ctx); err != nil {
		s.mu.Lock()
		s.items = prevItems
		s.unread = prevUnread
		s.mu.Unlock()
		return err
	}

	if s.mirror != nil {
		if err := s.mirror.MarkAllRead(ctx, now); err != nil {
			s.logger.Warn("mirror mark-all-read failed", zap.Error(err))
		}
	}
	return nil
}

// Archive removes a notification from the held list synchronously. The
// removal is never undone, even when the backend call fails: an archived
// entry reappearing is worse than one lingering server-side. The unread
// counter is recomputed from the server afterwards instead of guessed
// locally.
func (s *Store) Archive(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	err := s.backend.Archive(ctx, id)

	if s.mirror != nil {
		if merr := s.mirror.Archive(ctx, id); merr != nil {
			s.logger.Warn("mirror archive failed", zap.Error(merr))
		}
	}

	s.RefreshUnreadCount(ctx)
	return err
}

// StartAutoRefresh re-polls the unread count every interval, and the list too
// when the active filter is unread. Runs until the context is cancelled.
func (s *Store) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = DefaultRefreshInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshUnreadCount(ctx)

			s.mu.RLock()
			filter := s.filter
			s.mu.RUnlock()

			if filter.Status == model.StatusUnread {
				if err := s.Fetch(ctx, filter, ""); err != nil {
					s.logger.Debug("auto-refresh fetch failed", zap.Error(err))
				}
			}
		}
	}
}

// Items returns a copy of the held list.
func (s *Store) Items() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount returns the last known unread counter.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// HasMore reports whether another page is available.
func (s *Store) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextCursor != ""
}

func (s *Store) mirrorUpsert(ctx context.Context, notifs []model.Notification) {
	if s.mirror == nil || len(notifs) == 0 {
		return
	}
	if err := s.mirror.Upsert(ctx, notifs); err != nil {
		s.logger.Warn("mirror upsert failed", zap.Error(err))
	}
}
