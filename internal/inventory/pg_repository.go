package inventory

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

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	var price string
	if err := row.Scan(&it.ID, &it.Name, &it.Unit, &price); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	var err error
	if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse unit price: %w", err)
	}
	return &it, nil
}

const batchColumns = `id, item_id, batch_number, supplier, quantity, expiry_date, received_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ItemID, &b.BatchNumber, &b.Supplier, &b.Quantity, &b.ExpiryDate, &b.ReceivedAt)
	return b, err
}

const movementColumns = `id, item_id, batch_id, quantity, direction, reference_type, reference_id, actor_id, unit_price::text, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var price *string
	if err := row.Scan(&m.ID, &m.ItemID, &m.BatchID, &m.Quantity, &m.Direction,
		&m.ReferenceType, &m.ReferenceID, &m.ActorID, &price, &m.CreatedAt); err != nil {
		return m, err
	}
	if price != nil {
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return m, fmt.Errorf("parse movement price: %w", err)
		}
		m.UnitPrice = &p
	}
	return m, nil
}

func (r *PgRepository) GetItem(ctx context.Context, id int64) (*Item, error) {
	return scanItem(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, unit, unit_price::text FROM pharmacy_items WHERE id = $1
	`, id))
}

func (r *PgRepository) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, name, unit, unit_price::text FROM pharmacy_items ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func (r *PgRepository) LockPrescriptionLine(ctx context.Context, prescriptionID, itemID int64) (*PrescriptionLine, error) {
	var l PrescriptionLine
	var price string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT pi.prescription_id, pi.pharmacy_item_id, pi.quantity, p.visit_id, i.name, i.unit_price::text
		FROM prescription_items pi
		JOIN prescriptions p ON p.id = pi.prescription_id
		JOIN visits v ON v.id = p.visit_id
		JOIN pharmacy_items i ON i.id = pi.pharmacy_item_id
		WHERE pi.prescription_id = $1 AND pi.pharmacy_item_id = $2
		FOR UPDATE OF pi
		FOR SHARE OF v
	`, prescriptionID, itemID).Scan(&l.PrescriptionID, &l.ItemID, &l.Quantity, &l.VisitID, &l.ItemName, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionLineNotFound
		}
		return nil, fmt.Errorf("lock prescription line: %w", err)
	}
	if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse unit price: %w", err)
	}
	return &l, nil
}

func (r *PgRepository) HasOutMovement(ctx context.Context, refType string, refID, itemID int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM stock_movements
			WHERE direction = 'OUT' AND reference_type = $1 AND reference_id = $2 AND item_id = $3
		)
	`, refType, refID, itemID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dispensed: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) LockUsableBatches(ctx context.Context, itemID int64, today time.Time) ([]Batch, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+batchColumns+`
		FROM pharmacy_batches
		WHERE item_id = $1 AND quantity > 0 AND expiry_date >= $2
		ORDER BY expiry_date, id
		FOR UPDATE
	`, itemID, today)
	if err != nil {
		return nil, fmt.Errorf("lock batches: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Batch, error) { return scanBatch(row) })
}

func (r *PgRepository) DecrementBatch(ctx context.Context, batchID int64, qty int) (int, error) {
	var remaining int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE pharmacy_batches SET quantity = quantity - $2 WHERE id = $1 RETURNING quantity
	`, batchID, qty).Scan(&remaining)
	if err != nil {
		if db.IsCheckViolation(err, "pharmacy_batches_quantity_check") {
			return 0, ErrInsufficientStock
		}
		return 0, fmt.Errorf("decrement batch %d: %w", batchID, err)
	}
	return remaining, nil
}

func (r *PgRepository) InsertMovement(ctx context.Context, m Movement) (*Movement, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO stock_movements (item_id, batch_id, quantity, direction, reference_type, reference_id, actor_id, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric)
		RETURNING `+movementColumns,
		m.ItemID, m.BatchID, m.Quantity, m.Direction, m.ReferenceType, m.ReferenceID, m.ActorID, priceArg(m.UnitPrice))
	out, err := scanMovement(row)
	if err != nil {
		return nil, fmt.Errorf("insert movement: %w", err)
	}
	return &out, nil
}

func priceArg(p *decimal.Decimal) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

func (r *PgRepository) InsertBatch(ctx context.Context, req ReceiveRequest) (*Batch, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO pharmacy_batches (item_id, batch_number, supplier, quantity, expiry_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+batchColumns,
		req.ItemID, req.BatchNumber, req.Supplier, req.Quantity, req.ExpiryDate)
	b, err := scanBatch(row)
	if err != nil {
		if db.IsUniqueViolation(err, "pharmacy_batches_item_batch_key") {
			return nil, ErrDuplicateBatch
		}
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return &b, nil
}

func (r *PgRepository) AvailableStock(ctx context.Context, itemID int64, today time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM pharmacy_batches
		WHERE item_id = $1 AND expiry_date >= $2
	`, itemID, today).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("available stock: %w", err)
	}
	return n, nil
}

func (r *PgRepository) StockByItem(ctx context.Context, today time.Time) ([]ItemStock, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT i.id, i.name, i.unit, i.unit_price::text,
		       COALESCE(SUM(b.quantity) FILTER (WHERE b.expiry_date >= $1), 0),
		       COALESCE(SUM(b.quantity) FILTER (WHERE b.expiry_date < $1), 0)
		FROM pharmacy_items i
		LEFT JOIN pharmacy_batches b ON b.item_id = i.id
		GROUP BY i.id
		ORDER BY i.name
	`, today)
	if err != nil {
		return nil, fmt.Errorf("stock by item: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ItemStock, error) {
		var s ItemStock
		var price string
		if err := row.Scan(&s.ID, &s.Name, &s.Unit, &price, &s.Available, &s.Expired); err != nil {
			return s, err
		}
		var err error
		s.UnitPrice, err = decimal.NewFromString(price)
		return s, err
	})
}

func (r *PgRepository) ListBatches(ctx context.Context, itemID *int64) ([]BatchStatus, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT b.id, b.item_id, b.batch_number, b.supplier, b.quantity, b.expiry_date, b.received_at, i.name
		FROM pharmacy_batches b
		JOIN pharmacy_items i ON i.id = b.item_id
		WHERE $1::bigint IS NULL OR b.item_id = $1
		ORDER BY b.expiry_date, b.id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (BatchStatus, error) {
		var s BatchStatus
		err := row.Scan(&s.ID, &s.ItemID, &s.BatchNumber, &s.Supplier, &s.Quantity, &s.ExpiryDate, &s.ReceivedAt, &s.ItemName)
		return s, err
	})
}

func (r *PgRepository) ListMovements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE item_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Movement, error) { return scanMovement(row) })
}
