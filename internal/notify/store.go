package notify

import (
	"context"
	"time"
)

const DefaultListLimit = 50

type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

func (o ListOptions) withDefaults() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}

	return o
}

// StatRow is one aggregate bucket of the privileged statistics view.
type StatRow struct {
	Type     string   `json:"type"`
	Priority Priority `json:"priority"`
	Total    int      `json:"count"`
	Unread   int      `json:"unread_count"`
}

// Store persists notification records and per-user read receipts. It wraps
// the external relational store; visibility of a record to a user is
// resolved inside the store (direct target, role target, or everyone, and
// not expired).
type Store interface {
	// Insert persists the record, assigning id and created_at server-side.
	Insert(ctx context.Context, n Notification) (Notification, error)

	// ListForUser returns visible notifications, newest first, with the
	// per-viewer Read flag populated.
	ListForUser(ctx context.Context, userID int64, role string, opts ListOptions) ([]Notification, error)

	CountForUser(ctx context.Context, userID int64, role string, unreadOnly bool) (int, error)

	// MarkRead records a read receipt idempotently; marking the same pair
	// twice is a no-op. Unknown notification ids fail with NotFound.
	MarkRead(ctx context.Context, notificationID int64, userID int64) error

	// MarkAllRead marks every currently unread visible notification and
	// returns how many were newly marked.
	MarkAllRead(ctx context.Context, userID int64, role string) (int, error)

	// PurgeExpired deletes notifications whose expiry has passed.
	PurgeExpired(ctx context.Context) (int, error)

	// Stats aggregates totals and unread totals per type and priority over
	// a trailing window.
	Stats(ctx context.Context, window time.Duration) ([]StatRow, error)
}
