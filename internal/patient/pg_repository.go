package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-operations/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const patientColumns = `id, full_name, date_of_birth, gender, phone, email, address, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FullName, &p.DateOfBirth, &p.Gender, &p.Phone, &p.Email, &p.Address, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PgRepository) Create(ctx context.Context, reg Registration, createdBy int64) (*Patient, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (full_name, date_of_birth, gender, phone, email, address, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+patientColumns,
		reg.FullName, reg.DateOfBirth, reg.Gender, reg.Phone, nullable(reg.Email), nullable(reg.Address), createdBy)

	p, err := scanPatient(row)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return p, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id int64) (*Patient, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (r *PgRepository) Search(ctx context.Context, query string, limit int) ([]Patient, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE full_name ILIKE '%' || $1 || '%' OR phone LIKE '%' || $1 || '%'
		ORDER BY full_name, id
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
