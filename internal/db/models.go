package db

import (
	"time"

	"github.com/google/uuid"
)

// CachedNotification is one row of the durable notification mirror. The
// mirror is a cache of what the backend served, never an authority: rows are
// upserted from fetched pages and soft-deleted on archive.
type CachedNotification struct {
	ID         uuid.UUID  `json:"id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Status     string     `json:"status"`
	Category   string     `json:"category"`
	Priority   string     `json:"priority"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	SyncedAt   time.Time  `json:"synced_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}
