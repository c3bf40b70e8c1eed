package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/model"
	"github.com/lalithlochan/beacon/internal/upstream"
)

// fakeBackend serves canned pages and records mutation calls.
type fakeBackend struct {
	pages       map[string]*upstream.NotificationPage // keyed by cursor
	unread      int
	unreadErr   error
	markErr     error
	archiveErr  error
	markedRead  []uuid.UUID
	markedAll   int
	archived    []uuid.UUID
	listQueries []upstream.ListQuery
}

func (f *fakeBackend) ListNotifications(ctx context.Context, q upstream.ListQuery) (*upstream.NotificationPage, error) {
	f.listQueries = append(f.listQueries, q)
	page, ok := f.pages[q.After]
	if !ok {
		return &upstream.NotificationPage{}, nil
	}
	return page, nil
}

func (f *fakeBackend) UnreadCount(ctx context.Context) (int, error) {
	if f.unreadErr != nil {
		return 0, f.unreadErr
	}
	return f.unread, nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.markedRead = append(f.markedRead, id)
	return nil
}

func (f *fakeBackend) MarkAllRead(ctx context.Context) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.markedAll++
	return nil
}

func (f *fakeBackend) Archive(ctx context.Context, id uuid.UUID) error {
	if f.archiveErr != nil {
		return f.archiveErr
	}
	f.archived = append(f.archived, id)
	return nil
}

func unreadNotif(title string) model.Notification {
	return model.Notification{ID: uuid.New(), Title: title, Status: model.StatusUnread}
}

func TestFetch_ReplaceThenAppend(t *testing.T) {
	n1, n2, n3 := unreadNotif("a"), unreadNotif("b"), unreadNotif("c")
	backend := &fakeBackend{pages: map[string]*upstream.NotificationPage{
		"":   {Items: []model.Notification{n1, n2}, NextCursor: "cur-1"},
		"cur-1": {Items: []model.Notification{n3}},
	}}
	s := New(backend, nil, zap.NewNop())

	filter := Filter{Status: model.StatusUnread, Limit: 20}
	if err := s.Fetch(context.Background(), filter, ""); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := len(s.Items()); got != 2 {
		t.Fatalf("expected 2 items after first page, got %d", got)
	}
	if !s.HasMore() {
		t.Fatal("expected a next cursor after the first page")
	}

	if err := s.LoadMore(context.Background()); err != nil {
		t.Fatalf("load more: %v", err)
	}
	if got := len(s.Items()); got != 3 {
		t.Errorf("expected cursor fetch to append, got %d items", got)
	}
	if s.HasMore() {
		t.Error("expected no cursor after the last page")
	}

	// LoadMore with no cursor is a no-op
	calls := len(backend.listQueries)
	if err := s.LoadMore(context.Background()); err != nil {
		t.Fatalf("load more at end: %v", err)
	}
	if len(backend.listQueries) != calls {
		t.Error("load more without a cursor should not hit the backend")
	}
}

func TestRefreshUnreadCount_SwallowsFailure(t *testing.T) {
	backend := &fakeBackend{unread: 7}
	s := New(backend, nil, zap.NewNop())

	s.RefreshUnreadCount(context.Background())
	if s.UnreadCount() != 7 {
		t.Fatalf("expected 7, got %d", s.UnreadCount())
	}

	// A failing refresh keeps the stale value
	backend.unreadErr = errors.New("unavailable")
	s.RefreshUnreadCount(context.Background())
	if s.UnreadCount() != 7 {
		t.Errorf("expected stale count 7 after failure, got %d", s.UnreadCount())
	}
}

func TestMarkAsRead_Optimistic(t *testing.T) {
	n := unreadNotif("a")
	backend := &fakeBackend{pages: map[string]*upstream.NotificationPage{
		"": {Items: []model.Notification{n}},
	}, unread: 1}
	s := New(backend, nil, zap.NewNop())
	_ = s.Fetch(context.Background(), Filter{}, "")
	s.RefreshUnreadCount(context.Background())

	if err := s.MarkAsRead(context.Background(), n.ID); err != nil {
		t.Fatalf("mark as read: %v", err)
	}

	items := s.Items()
	if items[0].Status != model.StatusRead {
		t.Errorf("expected READ, got %s", items[0].Status)
	}
	if items[0].ReadAt == nil {
		t.Error("expected readAt set alongside READ")
	}
	if s.UnreadCount() != 0 {
		t.Errorf("expected unread 0, got %d", s.UnreadCount())
	}
	if len(backend.markedRead) != 1 || backend.markedRead[0] != n.ID {
		t.Errorf("expected backend mark-read for %s", n.ID)
	}
}

func TestMarkAsRead_RollsBackOnFailure(t *testing.T) {
	n := unreadNotif("a")
	backend := &fakeBackend{pages: map[string]*upstream.NotificationPage{
		"": {Items: []model.Notification{n}},
	}, unread: 1, markErr: errors.New("rejected")}
	s := New(backend, nil, zap.NewNop())
	_ = s.Fetch(context.Background(), Filter{}, "")

	backend.unreadErr = nil
	s.RefreshUnreadCount(context.Background())

	if err := s.MarkAsRead(context.Background(), n.ID); err == nil {
		t.Fatal("expected the backend error")
	}

	items := s.Items()
	if items[0].Status != model.StatusUnread {
		t.Errorf("expected rollback to UNREAD, got %s", items[0].Status)
	}
	if items[0].ReadAt != nil {
		t.Error("expected readAt cleared on rollback")
	}
	if s.UnreadCount() != 1 {
		t.Errorf("expected unread restored to 1, got %d", s.UnreadCount())
	}
}

func TestMarkAllAsRead_ZeroesCount(t *testing.T) {
	n1, n2 := unreadNotif("a"), unreadNotif("b")
	backend := &fakeBackend{pages: map[string]*upstream.NotificationPage{
		"": {Items: []model.Notification{n1, n2}},
	}, unread: 2}
	s := New(backend, nil, zap.NewNop())
	_ = s.Fetch(context.Background(), Filter{}, "")
	s.RefreshUnreadCount(context.Background())

	if err := s.MarkAllAsRead(context.Background()); err != nil {
		t.Fatalf("mark all as read: %v", err)
	}

	if s.UnreadCount() != 0 {
		t.Errorf("expected unread 0, got %d", s.UnreadCount())
	}
	for _, item := range s.Items() {
		if item.Status != model.StatusRead || item.ReadAt == nil {
			t.Errorf("expected every item READ with readAt, got %+v", item)
		}
	}
	if backend.markedAll != 1 {
		t.Errorf("expected one mark-all call, got %d", backend.markedAll)
	}
}

func TestMarkAllAsRead_RollsBackOnFailure(t *testing.T) {
	n := unreadNotif("a")
	backend := &fakeBackend{pages: map[string]*upstream.NotificationPage{
		"": {Items: []model.Notification{n}},
	}, unread: 1, markErr: errors.New("rejected")}
	s := New(backend, nil, zap.NewNop())
	_ = s.Fetch(context.Background(), Filter{}, "")
	s.RefreshUnreadCount(context.Background())

	if err := s.MarkAllAsRead(context.Background()); err == nil {
		t.Fatal("expected the backend error")
	}

	if s.Items()[0].Status != model.StatusUnread {
		t.Error("expected list restored on rollback")
	}
	if s.UnreadCount() != 1 {
		t.Errorf("expected unread restored to 1, got %d", s.UnreadCount())
	}
}

func TestArchive_RemovesSynchronouslyAndNeverReAdds(t *testing.T) {
	n1, n2 := unreadNotif("a"), unreadNotif("b")
	backend := &fakeBackend{pages: map[string]*upstream.NotificationPage{
		"": {Items: []model.Notification{n1, n2}},
	}, unread: 2, archiveErr: errors.New("rejected")}
	s := New(backend, nil, zap.NewNop())
	_ = s.Fetch(context.Background(), Filter{}, "")

	err := s.Archive(context.Background(), n1.ID)
	if err == nil {
		t.Fatal("expected the backend error to be returned")
	}

	// The removal sticks even though the backend rejected it
	items := s.Items()
	if len(items) != 1 || items[0].ID != n2.ID {
		t.Errorf("archived item must not reappear locally, got %v", items)
	}
}

func TestArchive_RecomputesCountFromServer(t *testing.T) {
	n := unreadNotif("a")
	backend := &fakeBackend{pages: map[string]*upstream.NotificationPage{
		"": {Items: []model.Notification{n}},
	}, unread: 5}
	s := New(backend, nil, zap.NewNop())
	_ = s.Fetch(context.Background(), Filter{}, "")

	if err := s.Archive(context.Background(), n.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	// Counter comes from the server, not a local decrement
	if s.UnreadCount() != 5 {
		t.Errorf("expected server-reported count 5, got %d", s.UnreadCount())
	}
	if len(backend.archived) != 1 {
		t.Errorf("expected one archive call, got %d", len(backend.archived))
	}
}

func TestStartAutoRefresh_StopsOnCancel(t *testing.T) {
	backend := &fakeBackend{unread: 3}
	s := New(backend, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StartAutoRefresh(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for s.UnreadCount() != 3 {
		select {
		case <-deadline:
			t.Fatal("auto-refresh never updated the count")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("auto-refresh did not stop on cancel")
	}
}
