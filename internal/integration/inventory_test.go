//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-operations/internal/db"
	"github.com/hackgods/hospital-operations/internal/inventory"
)

func TestDispenseFEFOAgainstPostgres(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	today := db.DateOnly(time.Now())

	expired := f.batch(t, "EXP-0", 50, today.AddDate(0, 0, -1))
	batchA, err := f.app.Inventory.ReceiveBatch(ctx, inventory.ReceiveRequest{
		ItemID: f.itemID, BatchNumber: "A", Supplier: "Kimia Farma", Quantity: 10, ExpiryDate: today.AddDate(0, 2, 0),
	}, f.pharmacist)
	require.NoError(t, err)
	batchB, err := f.app.Inventory.ReceiveBatch(ctx, inventory.ReceiveRequest{
		ItemID: f.itemID, BatchNumber: "B", Supplier: "Kimia Farma", Quantity: 10, ExpiryDate: today.AddDate(0, 5, 0),
	}, f.pharmacist)
	require.NoError(t, err)

	visitID := f.openVisit(t, f.slots[0])
	rx := f.prescribe(t, visitID, 15)

	res, err := f.app.Inventory.Dispense(ctx, rx, f.itemID, 15, f.pharmacist)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, batchA.ID, res.Allocations[0].BatchID)
	assert.Equal(t, 10, res.Allocations[0].Quantity)
	assert.Equal(t, batchB.ID, res.Allocations[1].BatchID)
	assert.Equal(t, 5, res.Allocations[1].Quantity)

	assert.Equal(t, 0, f.batchQty(t, batchA.ID))
	assert.Equal(t, 5, f.batchQty(t, batchB.ID))
	assert.Equal(t, 50, f.batchQty(t, expired), "expired stock is never allocated")

	movements, err := f.app.Inventory.Movements(ctx, f.itemID, 50, f.pharmacist)
	require.NoError(t, err)
	out := 0
	for _, m := range movements {
		if m.Direction != inventory.DirectionOut {
			continue
		}
		out += m.Quantity
		require.NotNil(t, m.UnitPrice)
		assert.True(t, decimal.NewFromInt(1500).Equal(*m.UnitPrice))
	}
	assert.Equal(t, 15, out)

	_, err = f.app.Inventory.Dispense(ctx, rx, f.itemID, 15, f.pharmacist)
	assert.ErrorIs(t, err, inventory.ErrAlreadyDispensed)
}

func TestConcurrentDispenseDecrementsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch := f.batch(t, "A", 100, db.DateOnly(time.Now()).AddDate(1, 0, 0))
	visitID := f.openVisit(t, f.slots[0])
	rx := f.prescribe(t, visitID, 10)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		errs    []error
		release = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release
			_, err := f.app.Inventory.Dispense(ctx, rx, f.itemID, 10, f.pharmacist)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			wins++
		}()
	}
	close(release)
	wg.Wait()

	assert.Equal(t, 1, wins)
	require.Len(t, errs, n-1)
	for _, err := range errs {
		assert.ErrorIs(t, err, inventory.ErrAlreadyDispensed)
	}
	assert.Equal(t, 90, f.batchQty(t, batch))
}

func TestDispenseShortOfStockLeavesBatchesUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch := f.batch(t, "A", 4, db.DateOnly(time.Now()).AddDate(1, 0, 0))
	visitID := f.openVisit(t, f.slots[0])
	rx := f.prescribe(t, visitID, 5)

	_, err := f.app.Inventory.Dispense(ctx, rx, f.itemID, 5, f.pharmacist)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 4, f.batchQty(t, batch))

	// the check constraint backs the same error when the plan is bypassed
	_, err = inventory.NewPgRepository(f.pool).DecrementBatch(ctx, batch, 5)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestStockMovementsAreAppendOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.app.Inventory.ReceiveBatch(ctx, inventory.ReceiveRequest{
		ItemID: f.itemID, BatchNumber: "A", Quantity: 10, ExpiryDate: db.DateOnly(time.Now()).AddDate(1, 0, 0),
	}, f.pharmacist)
	require.NoError(t, err)

	_, err = f.pool.Exec(ctx, `UPDATE stock_movements SET quantity = 1`)
	assert.Error(t, err)
	_, err = f.pool.Exec(ctx, `DELETE FROM stock_movements`)
	assert.Error(t, err)

	var n int
	f.scan(t, &n, `SELECT count(*) FROM stock_movements WHERE quantity = 10`)
	assert.Equal(t, 1, n)
}
