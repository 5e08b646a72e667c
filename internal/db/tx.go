package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TxRunner executes fn as one atomic unit. Repositories called with the ctx
// handed to fn all join the same transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// WithTx stores tx in ctx.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Conn returns the transaction in ctx when there is one, else the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// PgTxRunner runs read committed transactions and retries the whole unit on
// serialization failures and deadlocks.
type PgTxRunner struct {
	pool       *pgxpool.Pool
	maxRetries int
	logger     *zap.Logger
}

func NewTxRunner(pool *pgxpool.Pool, maxRetries int, logger *zap.Logger) *PgTxRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &PgTxRunner{pool: pool, maxRetries: maxRetries, logger: logger}
}

func (r *PgTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// nested calls join the outer transaction
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			return fn(WithTx(ctx, tx))
		})
		if err == nil || !IsRetryable(err) {
			return err
		}
		r.logger.Warn("retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// IsRetryable reports whether the transaction may succeed if run again.
func IsRetryable(err error) bool {
	code, _ := pgCode(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// IsUniqueViolation reports a unique violation, optionally on a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	code, name := pgCode(err)
	if code != codeUniqueViolation {
		return false
	}
	return constraint == "" || name == constraint
}

// IsCheckViolation reports a CHECK constraint failure on the named constraint.
func IsCheckViolation(err error, constraint string) bool {
	code, name := pgCode(err)
	if code != codeCheckViolation {
		return false
	}
	return constraint == "" || name == constraint
}
