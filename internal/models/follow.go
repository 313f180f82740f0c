package models

import "time"

// ScraperFollow is an entry on the platform-wide list of accounts the
// scheduler scrapes. Removal is a soft delete via IsActive.
type ScraperFollow struct {
	ID       int       `json:"id"`
	Username string    `json:"username"`
	Reason   string    `json:"reason,omitempty"`
	AddedBy  string    `json:"added_by,omitempty"`
	AddedAt  time.Time `json:"added_at"`
	IsActive bool      `json:"is_active"`
}

// Priority bounds for user follows.
const (
	MinFollowPriority     = 1
	MaxFollowPriority     = 10
	DefaultFollowPriority = 5
)

// UserFollow is a user's personal subscription to one of the platform
// follows. The username must exist as an active ScraperFollow.
type UserFollow struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	Username  string    `json:"username"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}
