package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/model"
)

// Repository maintains the notification_cache mirror table.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a mirror repository.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert writes fetched notifications into the mirror. Existing rows are
// refreshed; archived rows stay archived even when the backend serves the
// entry again.
func (r *Repository) Upsert(ctx context.Context, notifs []model.Notification) error {
	if len(notifs) == 0 {
		return nil
	}

	query := `
		INSERT INTO notification_cache (
			id, title, body, status, category, priority, read_at, created_at, synced_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			status = EXCLUDED.status,
			category = EXCLUDED.category,
			priority = EXCLUDED.priority,
			read_at = EXCLUDED.read_at,
			synced_at = NOW()
		WHERE notification_cache.archived_at IS NULL
	`

	for i := range notifs {
		n := &notifs[i]
		_, err := r.db.Pool().Exec(ctx, query,
			n.ID,
			n.Title,
			n.Body,
			n.Status,
			n.Category,
			n.Priority,
			n.ReadAt,
			n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert notification %s: %w", n.ID, err)
		}
	}

	r.logger.Debug("mirror upserted", zap.Int("count", len(notifs)))
	return nil
}

// List returns mirrored notifications, newest first, excluding archived rows.
// An empty status matches everything.
func (r *Repository) List(ctx context.Context, status string, limit int) ([]*CachedNotification, error) {
	query := `
		SELECT id, title, body, status, category, priority,
		       read_at, created_at, synced_at, archived_at
		FROM notification_cache
		WHERE archived_at IS NULL AND ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query notification cache: %w", err)
	}
	defer rows.Close()

	var notifs []*CachedNotification
	for rows.Next() {
		var n CachedNotification
		err := rows.Scan(
			&n.ID,
			&n.Title,
			&n.Body,
			&n.Status,
			&n.Category,
			&n.Priority,
			&n.ReadAt,
			&n.CreatedAt,
			&n.SyncedAt,
			&n.ArchivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cached notification: %w", err)
		}
		notifs = append(notifs, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifs, nil
}

// Get retrieves one mirrored notification by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*CachedNotification, error) {
	query := `
		SELECT id, title, body, status, category, priority,
		       read_at, created_at, synced_at, archived_at
		FROM notification_cache
		WHERE id = $1
	`

	var n CachedNotification
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&n.ID,
		&n.Title,
		&n.Body,
		&n.Status,
		&n.Category,
		&n.Priority,
		&n.ReadAt,
		&n.CreatedAt,
		&n.SyncedAt,
		&n.ArchivedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("notification not mirrored: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query cached notification: %w", err)
	}

	return &n, nil
}

// MarkRead mirrors a read-state change. Missing rows are ignored: the mirror
// only covers pages that were actually fetched.
func (r *Repository) MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error {
	query := `
		UPDATE notification_cache
		SET status = $1, read_at = $2, synced_at = NOW()
		WHERE id = $3 AND archived_at IS NULL
	`

	_, err := r.db.Pool().Exec(ctx, query, model.StatusRead, readAt, id)
	if err != nil {
		return fmt.Errorf("mark read in mirror: %w", err)
	}
	return nil
}

// MarkAllRead mirrors a read-all.
func (r *Repository) MarkAllRead(ctx context.Context, readAt time.Time) error {
	query := `
		UPDATE notification_cache
		SET status = $1, read_at = $2, synced_at = NOW()
		WHERE status = $3 AND archived_at IS NULL
	`

	_, err := r.db.Pool().Exec(ctx, query, model.StatusRead, readAt, model.StatusUnread)
	if err != nil {
		return fmt.Errorf("mark all read in mirror: %w", err)
	}
	return nil
}

// Archive soft-deletes a mirrored row. Archived rows never come back through
// Upsert, mirroring the in-memory never-re-add rule.
func (r *Repository) Archive(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notification_cache
		SET status = $1, archived_at = NOW(), synced_at = NOW()
		WHERE id = $2 AND archived_at IS NULL
	`

	_, err := r.db.Pool().Exec(ctx, query, model.StatusArchived, id)
	if err != nil {
		return fmt.Errorf("archive in mirror: %w", err)
	}
	return nil
}

// Prune drops archived rows older than the retention window.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM notification_cache
		WHERE archived_at IS NOT NULL AND archived_at < NOW() - $1::interval
	`

	result, err := r.db.Pool().Exec(ctx, query, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("prune mirror: %w", err)
	}

	pruned := result.RowsAffected()
	if pruned > 0 {
		r.logger.Info("mirror pruned", zap.Int64("rows", pruned))
	}
	return pruned, nil
}
