package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPgErrorClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "ux_appointments_active_slot"}
	wrapped := fmt.Errorf("insert appointment: %w", unique)

	assert.True(t, IsUniqueViolation(wrapped, ""))
	assert.True(t, IsUniqueViolation(wrapped, "ux_appointments_active_slot"))
	assert.False(t, IsUniqueViolation(wrapped, "users_username_key"))
	assert.False(t, IsRetryable(wrapped))

	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsRetryable(errors.New("plain")))

	check := &pgconn.PgError{Code: "23514", ConstraintName: "pharmacy_batches_quantity_check"}
	assert.True(t, IsCheckViolation(check, "pharmacy_batches_quantity_check"))
	assert.False(t, IsCheckViolation(unique, ""))
}

func TestTxFromContextEmpty(t *testing.T) {
	assert.Nil(t, TxFromContext(context.Background()))
}
