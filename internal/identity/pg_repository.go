package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const userColumns = `id, username, password_hash, account_status, roles, must_change_password,
	failed_attempts, last_login_at, last_login_ip, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var roles []string

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.Status,
		&roles,
		&u.MustChangePassword,
		&u.FailedAttempts,
		&u.LastLoginAt,
		&u.LastLoginIP,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Roles = toRoles(roles)
	return &u, nil
}

func toRoles(in []string) []access.Role {
	out := make([]access.Role, len(in))
	for i, r := range in {
		out[i] = access.Role(r)
	}
	return out
}

func fromRoles(in []access.Role) []string {
	out := make([]string, len(in))
	for i, r := range in {
		out[i] = string(r)
	}
	return out
}

func (r *PgRepository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *PgRepository) GetUserForUpdate(ctx context.Context, id int64) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	return scanUser(row)
}

func (r *PgRepository) GetUserByUsernameForUpdate(ctx context.Context, username string) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1 FOR UPDATE`, username)
	return scanUser(row)
}

func (r *PgRepository) ListUsers(ctx context.Context, role *access.Role) ([]User, error) {
	var roleArg *string
	if role != nil {
		s := string(*role)
		roleArg = &s
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE $1::text IS NULL OR $1 = ANY(roles)
		ORDER BY username
	`, roleArg)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *PgRepository) CreateUser(ctx context.Context, u NewUser) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (username, password_hash, roles, must_change_password)
		VALUES ($1, $2, $3, TRUE)
		RETURNING `+userColumns, u.Username, u.PasswordHash, fromRoles(u.Roles))

	created, err := scanUser(row)
	if err != nil {
		if db.IsUniqueViolation(err, "users_username_key") {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id int64, from, to AccountStatus) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE users
		SET account_status = $3,
		    failed_attempts = CASE WHEN $3 = 'ACTIVE' THEN 0 ELSE failed_attempts END,
		    updated_at = now()
		WHERE id = $1 AND account_status = $2
		RETURNING `+userColumns, id, from, to)
	return scanUser(row)
}

func (r *PgRepository) IncrementFailedAttempts(ctx context.Context, id int64) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE users
		SET failed_attempts = failed_attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts
	`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("increment failed attempts: %w", err)
	}
	return n, nil
}

func (r *PgRepository) RecordLogin(ctx context.Context, id int64, at time.Time, ip string) error {
	return r.exec(ctx, "record login", `
		UPDATE users
		SET failed_attempts = 0, last_login_at = $2, last_login_ip = NULLIF($3, ''), updated_at = now()
		WHERE id = $1
	`, id, at, ip)
}

func (r *PgRepository) UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) error {
	return r.exec(ctx, "update password", `
		UPDATE users SET password_hash = $2, must_change_password = $3, updated_at = now() WHERE id = $1
	`, id, hash, mustChange)
}

func (r *PgRepository) UpdateRoles(ctx context.Context, id int64, roles []access.Role) error {
	return r.exec(ctx, "update roles", `
		UPDATE users SET roles = $2, updated_at = now() WHERE id = $1
	`, id, fromRoles(roles))
}

func (r *PgRepository) exec(ctx context.Context, what, sql string, args ...any) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
