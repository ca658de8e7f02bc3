package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/umrahops/realtime/internal/ierr"
	"github.com/umrahops/realtime/internal/notify"
	"github.com/umrahops/realtime/internal/presence"
)

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	id          BIGSERIAL PRIMARY KEY,
	type        TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id   TEXT,
	data        JSONB NOT NULL DEFAULT '{}',
	priority    TEXT NOT NULL DEFAULT 'normal',
	expires_at  TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_by  BIGINT
);

CREATE INDEX IF NOT EXISTS idx_notifications_target
	ON notifications (target_type, target_id, created_at DESC);

CREATE TABLE IF NOT EXISTS notification_reads (
	notification_id BIGINT NOT NULL REFERENCES notifications (id) ON DELETE CASCADE,
	user_id         BIGINT NOT NULL,
	read_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (notification_id, user_id)
);
`

// visibleClause restricts rows to those addressed at the user directly, at
// the user's role, or at everyone, and not expired. Placeholders: $1 the
// user id rendered as text, $2 the role.
const visibleClause = `
	(
		(n.target_type = 'user' AND n.target_id = $1)
		OR (n.target_type = 'role' AND n.target_id = $2)
		OR n.target_type = 'all'
	)
	AND (n.expires_at IS NULL OR n.expires_at > now())
`

// NotificationStore is the pgx-backed notify.Store.
type NotificationStore struct {
	pool *pgxpool.Pool
}

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{
		pool,
	}
}

// Setup provisions the notification tables. It is idempotent.
func (s *NotificationStore) Setup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("provision notification schema: %w", err)
	}

	return nil
}

func (s *NotificationStore) Insert(ctx context.Context, n notify.Notification) (notify.Notification, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return notify.Notification{}, fmt.Errorf("encode notification data: %w", err)
	}

	var targetID *string
	if id := n.Target.ID(); id != "" {
		targetID = &id
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO notifications (type, title, message, target_type, target_id, data, priority, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		n.Type, n.Title, n.Message, string(n.Target.Type), targetID, data, string(n.Priority), n.ExpiresAt, n.CreatedBy,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return notify.Notification{}, fmt.Errorf("insert notification: %w", err)
	}

	return n, nil
}

func (s *NotificationStore) ListForUser(ctx context.Context, userID int64, role string, opts notify.ListOptions) ([]notify.Notification, error) {
	if opts.Limit <= 0 {
		opts.Limit = notify.DefaultListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	query := `
		SELECT n.id, n.type, n.title, n.message, n.target_type, n.target_id,
		       n.data, n.priority, n.expires_at, n.created_at, n.created_by,
		       EXISTS (
		           SELECT 1 FROM notification_reads r
		           WHERE r.notification_id = n.id AND r.user_id = $3
		       ) AS read
		FROM notifications n
		WHERE ` + visibleClause

	if opts.UnreadOnly {
		query += `
		AND NOT EXISTS (
			SELECT 1 FROM notification_reads r
			WHERE r.notification_id = n.id AND r.user_id = $3
		)`
	}

	query += `
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT $4 OFFSET $5`

	rows, err := s.pool.Query(ctx, query,
		presence.UserTarget(userID).ID(), role, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return notifications, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (notify.Notification, error) {
	var (
		n          notify.Notification
		targetType string
		targetID   *string
		data       []byte
		priority   string
	)

	err := row.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &targetType, &targetID,
		&data, &priority, &n.ExpiresAt, &n.CreatedAt, &n.CreatedBy, &n.Read)
	if err != nil {
		return notify.Notification{}, fmt.Errorf("scan notification: %w", err)
	}

	id := ""
	if targetID != nil {
		id = *targetID
	}
	n.Target, err = presence.TargetFrom(targetType, id)
	if err != nil {
		return notify.Notification{}, err
	}

	n.Priority = notify.Priority(priority)

	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return notify.Notification{}, fmt.Errorf("decode notification data: %w", err)
		}
	}

	return n, nil
}

func (s *NotificationStore) CountForUser(ctx context.Context, userID int64, role string, unreadOnly bool) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications n
		WHERE ` + visibleClause + `
		AND ($4 = false OR NOT EXISTS (
			SELECT 1 FROM notification_reads r
			WHERE r.notification_id = n.id AND r.user_id = $3
		))`

	var count int
	err := s.pool.QueryRow(ctx, query, presence.UserTarget(userID).ID(), role, userID, unreadOnly).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}

	return count, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, notificationID int64, userID int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`,
		notificationID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return ierr.New(ierr.ErrorCodeNotFound, errors.New("notification not found"))
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notification_reads (notification_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (notification_id, user_id) DO NOTHING`,
		notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}

	return nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID int64, role string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notification_reads (notification_id, user_id)
		SELECT n.id, $3
		FROM notifications n
		WHERE `+visibleClause+`
		AND NOT EXISTS (
			SELECT 1 FROM notification_reads r
			WHERE r.notification_id = n.id AND r.user_id = $3
		)
		ON CONFLICT (notification_id, user_id) DO NOTHING`,
		presence.UserTarget(userID).ID(), role, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (s *NotificationStore) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired notifications: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (s *NotificationStore) Stats(ctx context.Context, window time.Duration) ([]notify.StatRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT n.type, n.priority,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (
		           WHERE NOT EXISTS (
		               SELECT 1 FROM notification_reads r
		               WHERE r.notification_id = n.id
		           )
		       ) AS unread
		FROM notifications n
		WHERE n.created_at > now() - make_interval(secs => $1)
		GROUP BY n.type, n.priority
		ORDER BY total DESC`,
		window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("notification stats: %w", err)
	}
	defer rows.Close()

	var stats []notify.StatRow
	for rows.Next() {
		var (
			row      notify.StatRow
			priority string
		)
		if err := rows.Scan(&row.Type, &priority, &row.Total, &row.Unread); err != nil {
			return nil, fmt.Errorf("scan notification stats: %w", err)
		}
		row.Priority = notify.Priority(priority)
		stats = append(stats, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification stats: %w", err)
	}

	return stats, nil
}
