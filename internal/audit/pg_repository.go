package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) InsertEntry(ctx context.Context, e Entry) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_log (performer_id, action_type, table_name, record_id, field_name, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.PerformerID, e.Action, e.Table, e.RecordID, e.Field, e.OldValue, e.NewValue)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *PgRepository) InsertNotification(ctx context.Context, userID int64, content string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO notifications (user_id, content) VALUES ($1, $2)
	`, userID, content)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PgRepository) NotifyRole(ctx context.Context, role access.Role, content string) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO notifications (user_id, content)
		SELECT id, $2
		FROM users
		WHERE $1 = ANY(roles) AND account_status = 'ACTIVE'
	`, string(role), content)
	if err != nil {
		return 0, fmt.Errorf("notify role %s: %w", role, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) InsertOutbox(ctx context.Context, rec OutboxRecord) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, payload, topic, msg_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.EventID, rec.AggregateType, rec.AggregateID, rec.EventType, rec.Payload, rec.Topic, rec.Key)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

func (r *PgRepository) ListEntries(ctx context.Context, f TrailFilter) ([]Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, changed_at, performer_id, action_type, table_name, record_id, field_name, old_value, new_value
		FROM audit_log
		WHERE ($1 = '' OR table_name = $1)
		  AND ($2::bigint IS NULL OR performer_id = $2)
		  AND ($3::timestamptz IS NULL OR changed_at >= $3)
		  AND ($4::timestamptz IS NULL OR changed_at < $4)
		ORDER BY changed_at DESC, id DESC
		LIMIT $5
	`, f.Table, f.PerformerID, f.From, f.To, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.ChangedAt, &e.PerformerID, &e.Action, &e.Table,
			&e.RecordID, &e.Field, &e.OldValue, &e.NewValue)
		return e, err
	})
}

func (r *PgRepository) ListNotifications(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, user_id, content, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		err := row.Scan(&n.ID, &n.UserID, &n.Content, &n.IsRead, &n.CreatedAt)
		return n, err
	})
}

func (r *PgRepository) CountUnread(ctx context.Context, userID int64) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT is_read
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *PgRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}
