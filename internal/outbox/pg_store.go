package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-operations/internal/db"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const entryColumns = `id, event_id, aggregate_type, aggregate_id, event_type, payload, topic, msg_key, created_at, retry_count, last_error`

func (s *PgStore) claim(ctx context.Context, cond string, limit, maxRetries int) ([]Entry, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+entryColumns+`
		FROM outbox
		WHERE processed_at IS NULL AND `+cond+`
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Entry])
}

func (s *PgStore) Claim(ctx context.Context, limit, maxRetries int) ([]Entry, error) {
	return s.claim(ctx, "retry_count < $1", limit, maxRetries)
}

func (s *PgStore) ClaimExhausted(ctx context.Context, limit, maxRetries int) ([]Entry, error) {
	return s.claim(ctx, "retry_count >= $1", limit, maxRetries)
}

func (s *PgStore) MarkProcessed(ctx context.Context, id int64) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE outbox SET processed_at = now(), updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark outbox %d processed: %w", id, err)
	}
	return nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE outbox SET retry_count = retry_count + 1, last_error = $2, updated_at = now() WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox %d failed: %w", id, err)
	}
	return nil
}

func (s *PgStore) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `SELECT count(*) FROM outbox WHERE processed_at IS NULL`).Scan(&n)
	return n, err
}

func (s *PgStore) DeleteProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		DELETE FROM outbox WHERE processed_at IS NOT NULL AND processed_at < now() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("delete processed outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
