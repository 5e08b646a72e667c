package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/hospital-operations/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// NUMERIC columns travel as text so decimal.Decimal round-trips exactly.
const invoiceColumns = `id, visit_id, total_amount::text, status, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var total string
	err := row.Scan(&inv.ID, &inv.VisitID, &total, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	return &inv, nil
}

func (r *PgRepository) CreateInvoice(ctx context.Context, visitID int64, total decimal.Decimal) (*Invoice, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_invoices (visit_id, total_amount, status)
		VALUES ($1, $2::numeric, 'NOT PAID')
		RETURNING `+invoiceColumns, visitID, total.String())

	inv, err := scanInvoice(row)
	if err != nil {
		if db.IsUniqueViolation(err, "patient_invoices_visit_id_key") {
			return nil, ErrInvoiceExists
		}
		return nil, fmt.Errorf("insert invoice: %w", err)
	}
	return inv, nil
}

func (r *PgRepository) InsertLines(ctx context.Context, invoiceID int64, lines []LineInput) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`
			INSERT INTO invoice_lines (invoice_id, kind, reference_id, description, unit_price, quantity, amount)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric)
		`, invoiceID, l.Kind, l.ReferenceID, l.Description, l.UnitPrice.String(), l.Quantity, l.Amount().String())
	}

	br := db.Conn(ctx, r.pool).SendBatch(ctx, batch)
	defer br.Close()
	for range lines {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert invoice line: %w", err)
		}
	}
	return nil
}

func (r *PgRepository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+invoiceColumns+` FROM patient_invoices WHERE id = $1`, id))
}

func (r *PgRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+invoiceColumns+` FROM patient_invoices WHERE id = $1 FOR UPDATE`, id))
}

func (r *PgRepository) GetInvoiceByVisit(ctx context.Context, visitID int64) (*Invoice, error) {
	return scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+invoiceColumns+` FROM patient_invoices WHERE visit_id = $1`, visitID))
}

func (r *PgRepository) GetInvoiceByVisitForUpdate(ctx context.Context, visitID int64) (*Invoice, error) {
	return scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+invoiceColumns+` FROM patient_invoices WHERE visit_id = $1 FOR UPDATE`, visitID))
}

func (r *PgRepository) UpdateTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_invoices SET total_amount = $2::numeric, updated_at = now()
		WHERE id = $1 AND status = 'NOT PAID'
	`, id, total.String())
	if err != nil {
		return fmt.Errorf("update invoice total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceSettled
	}
	return nil
}

func (r *PgRepository) MarkPaid(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_invoices SET status = 'PAID', updated_at = now()
		WHERE id = $1 AND status = 'NOT PAID'
	`, id)
	if err != nil {
		return fmt.Errorf("mark invoice paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceSettled
	}
	return nil
}

func (r *PgRepository) SumPayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM payments WHERE invoice_id = $1
	`, invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	return decimal.NewFromString(sum)
}

func (r *PgRepository) InsertPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, method Method, actor int64) (*Payment, error) {
	var p Payment
	var amt string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payments (invoice_id, amount, method, actor_id)
		VALUES ($1, $2::numeric, $3, $4)
		RETURNING id, invoice_id, amount::text, method, actor_id, paid_at
	`, invoiceID, amount.String(), method, actor).Scan(&p.ID, &p.InvoiceID, &amt, &p.Method, &p.ActorID, &p.PaidAt)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) ListLines(ctx context.Context, invoiceID int64) ([]Line, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, invoice_id, kind, reference_id, description, unit_price::text, quantity, amount::text, created_at
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		var price, amount string
		if err := row.Scan(&l.ID, &l.InvoiceID, &l.Kind, &l.ReferenceID, &l.Description, &price, &l.Quantity, &amount, &l.CreatedAt); err != nil {
			return l, err
		}
		var err error
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return l, err
		}
		l.Amount, err = decimal.NewFromString(amount)
		return l, err
	})
}

func (r *PgRepository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, invoice_id, amount::text, method, actor_id, paid_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY paid_at, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Payment, error) {
		var p Payment
		var amt string
		if err := row.Scan(&p.ID, &p.InvoiceID, &amt, &p.Method, &p.ActorID, &p.PaidAt); err != nil {
			return p, err
		}
		var err error
		p.Amount, err = decimal.NewFromString(amt)
		return p, err
	})
}

func (r *PgRepository) Tracker(ctx context.Context, status *InvoiceStatus, limit int) ([]TrackerRow, error) {
	var statusArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT i.id, i.visit_id, i.total_amount::text, i.status, i.created_at, i.updated_at,
		       p.id, p.full_name, v.started_at,
		       COALESCE(pay.paid, 0)::text
		FROM patient_invoices i
		JOIN visits v ON v.id = i.visit_id
		JOIN patients p ON p.id = v.patient_id
		LEFT JOIN (
			SELECT invoice_id, SUM(amount) AS paid FROM payments GROUP BY invoice_id
		) pay ON pay.invoice_id = i.id
		WHERE $1::text IS NULL OR i.status = $1
		ORDER BY i.created_at DESC, i.id DESC
		LIMIT $2
	`, statusArg, limit)
	if err != nil {
		return nil, fmt.Errorf("invoice tracker: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TrackerRow, error) {
		var t TrackerRow
		var total, paid string
		if err := row.Scan(&t.ID, &t.VisitID, &total, &t.Status, &t.CreatedAt, &t.UpdatedAt,
			&t.PatientID, &t.PatientName, &t.VisitDate, &paid); err != nil {
			return t, err
		}
		var err error
		if t.Total, err = decimal.NewFromString(total); err != nil {
			return t, err
		}
		if t.Paid, err = decimal.NewFromString(paid); err != nil {
			return t, err
		}
		t.Balance = Balance(t.Total, t.Paid)
		return t, nil
	})
}

func (r *PgRepository) MonthlyRevenue(ctx context.Context, from, to time.Time) ([]RevenueRow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		WITH months AS (
			SELECT generate_series(date_trunc('month', $1::timestamptz),
			                       date_trunc('month', $2::timestamptz - interval '1 microsecond'),
			                       interval '1 month') AS month
		),
		invoiced AS (
			SELECT date_trunc('month', created_at) AS month, SUM(total_amount) AS amount
			FROM patient_invoices
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY 1
		),
		collected AS (
			SELECT date_trunc('month', paid_at) AS month, SUM(amount) AS amount, count(*) AS n
			FROM payments
			WHERE paid_at >= $1 AND paid_at < $2
			GROUP BY 1
		)
		SELECT m.month, COALESCE(i.amount, 0)::text, COALESCE(c.amount, 0)::text, COALESCE(c.n, 0)
		FROM months m
		LEFT JOIN invoiced i ON i.month = m.month
		LEFT JOIN collected c ON c.month = m.month
		ORDER BY m.month
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("monthly revenue: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RevenueRow, error) {
		var rr RevenueRow
		var invoiced, collected string
		if err := row.Scan(&rr.Month, &invoiced, &collected, &rr.Payments); err != nil {
			return rr, err
		}
		var err error
		if rr.Invoiced, err = decimal.NewFromString(invoiced); err != nil {
			return rr, err
		}
		rr.Collected, err = decimal.NewFromString(collected)
		return rr, err
	})
}
