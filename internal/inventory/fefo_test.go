package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-operations/internal/config"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPlanFEFOTakesSoonestExpiryFirst(t *testing.T) {
	batches := []Batch{
		{ID: 2, BatchNumber: "B", Quantity: 10, ExpiryDate: day("2024-06-01")},
		{ID: 1, BatchNumber: "A", Quantity: 10, ExpiryDate: day("2024-01-01")},
	}

	plan, err := PlanFEFO(batches, day("2023-12-15"), 15)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, Allocation{BatchID: 1, BatchNumber: "A", Quantity: 10, Remaining: 0}, plan[0])
	assert.Equal(t, Allocation{BatchID: 2, BatchNumber: "B", Quantity: 5, Remaining: 5}, plan[1])
}

func TestPlanFEFOLeavesLaterBatchUntouched(t *testing.T) {
	batches := []Batch{
		{ID: 1, Quantity: 10, ExpiryDate: day("2024-01-01")},
		{ID: 2, Quantity: 10, ExpiryDate: day("2024-06-01")},
	}

	plan, err := PlanFEFO(batches, day("2023-12-15"), 4)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(1), plan[0].BatchID)
	assert.Equal(t, 6, plan[0].Remaining)
}

func TestPlanFEFOSkipsExpiredAndEmpty(t *testing.T) {
	batches := []Batch{
		{ID: 1, Quantity: 50, ExpiryDate: day("2023-12-14")},
		{ID: 2, Quantity: 0, ExpiryDate: day("2023-12-20")},
		{ID: 3, Quantity: 5, ExpiryDate: day("2023-12-15")},
		{ID: 4, Quantity: 5, ExpiryDate: day("2024-03-01")},
	}

	plan, err := PlanFEFO(batches, day("2023-12-15"), 8)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, int64(3), plan[0].BatchID, "a batch expiring today is still usable")
	assert.Equal(t, int64(4), plan[1].BatchID)
	assert.Equal(t, 3, plan[1].Quantity)
}

func TestPlanFEFOTieBreaksOnID(t *testing.T) {
	batches := []Batch{
		{ID: 9, Quantity: 3, ExpiryDate: day("2024-01-01")},
		{ID: 4, Quantity: 3, ExpiryDate: day("2024-01-01")},
	}

	plan, err := PlanFEFO(batches, day("2023-12-01"), 2)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(4), plan[0].BatchID)
}

func TestPlanFEFOInsufficient(t *testing.T) {
	batches := []Batch{
		{ID: 1, Quantity: 100, ExpiryDate: day("2023-01-01")},
		{ID: 2, Quantity: 4, ExpiryDate: day("2024-01-01")},
	}

	plan, err := PlanFEFO(batches, day("2023-12-15"), 5)
	assert.Nil(t, plan)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "requested 5, available 4")

	_, err = PlanFEFO(batches, day("2023-12-15"), 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestClassify(t *testing.T) {
	policy := config.StockPolicy{CriticalLevel: 10, LowLevel: 50}

	tests := []struct {
		available int
		want      Level
	}{
		{0, LevelCritical},
		{10, LevelCritical},
		{11, LevelLow},
		{50, LevelLow},
		{51, LevelHealthy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.available, policy), "available=%d", tt.available)
	}
}

func TestStateOf(t *testing.T) {
	today := day("2024-03-01")

	tests := []struct {
		name  string
		batch Batch
		want  BatchState
		days  int
	}{
		{"expired", Batch{Quantity: 5, ExpiryDate: day("2024-02-29")}, BatchExpired, -1},
		{"expired and empty", Batch{Quantity: 0, ExpiryDate: day("2024-01-01")}, BatchExpired, -60},
		{"depleted", Batch{Quantity: 0, ExpiryDate: day("2025-01-01")}, BatchDepleted, 306},
		{"expires today", Batch{Quantity: 5, ExpiryDate: today}, BatchExpiringSoon, 0},
		{"within window", Batch{Quantity: 5, ExpiryDate: day("2024-03-31")}, BatchExpiringSoon, 30},
		{"ok", Batch{Quantity: 5, ExpiryDate: day("2024-04-01")}, BatchOK, 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, days := StateOf(tt.batch, today.Add(15*time.Hour), 30)
			assert.Equal(t, tt.want, state)
			assert.Equal(t, tt.days, days)
		})
	}
}
