package model

import (
	"time"

	"github.com/google/uuid"
)

// Status constants for the notification lifecycle
const (
	StatusUnread   = "UNREAD"
	StatusRead     = "READ"
	StatusArchived = "ARCHIVED"
)

// NotificationData carries the click-navigation target and native display hints
type NotificationData struct {
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Notification represents a notification as served by the backend.
// ReadAt is set if and only if Status is READ.
type Notification struct {
	ID        uuid.UUID         `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	Data      *NotificationData `json:"data,omitempty"`
	Status    string            `json:"status"`
	Category  string            `json:"category,omitempty"`
	Priority  string            `json:"priority,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ReadAt    *time.Time        `json:"read_at,omitempty"`
}
