package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/access/accesstest"
	"github.com/hackgods/hospital-operations/internal/audit/audittest"
	"github.com/hackgods/hospital-operations/internal/billing"
	"github.com/hackgods/hospital-operations/internal/config"
	"github.com/hackgods/hospital-operations/internal/db/dbtest"
)

type lineKey struct{ prescription, item int64 }

type memRepo struct {
	mu        sync.Mutex
	items     map[int64]Item
	batches   map[int64]*Batch
	lines     map[lineKey]PrescriptionLine
	movements []Movement
	nextID    int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		items:   map[int64]Item{},
		batches: map[int64]*Batch{},
		lines:   map[lineKey]PrescriptionLine{},
		nextID:  100,
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) GetItem(_ context.Context, id int64) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &it, nil
}

func (m *memRepo) ListItems(context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) LockPrescriptionLine(_ context.Context, prescriptionID, itemID int64) (*PrescriptionLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[lineKey{prescriptionID, itemID}]
	if !ok {
		return nil, ErrPrescriptionLineNotFound
	}
	return &l, nil
}

func (m *memRepo) HasOutMovement(_ context.Context, refType string, refID, itemID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mv := range m.movements {
		if mv.Direction == DirectionOut && mv.ReferenceType == refType && mv.ReferenceID == refID && mv.ItemID == itemID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) LockUsableBatches(_ context.Context, itemID int64, today time.Time) ([]Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Batch
	for _, b := range m.batches {
		if b.ItemID == itemID && b.Quantity > 0 && !b.IsExpired(today) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memRepo) DecrementBatch(_ context.Context, batchID int64, qty int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.batches[batchID]
	if b.Quantity < qty {
		return 0, ErrInsufficientStock
	}
	b.Quantity -= qty
	return b.Quantity, nil
}

func (m *memRepo) InsertMovement(_ context.Context, mv Movement) (*Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv.ID = m.id()
	mv.CreatedAt = time.Now()
	m.movements = append(m.movements, mv)
	return &mv, nil
}

func (m *memRepo) InsertBatch(_ context.Context, r ReceiveRequest) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.ItemID == r.ItemID && b.BatchNumber == r.BatchNumber {
			return nil, ErrDuplicateBatch
		}
	}
	b := &Batch{
		ID: m.id(), ItemID: r.ItemID, BatchNumber: r.BatchNumber, Supplier: r.Supplier,
		Quantity: r.Quantity, ExpiryDate: r.ExpiryDate, ReceivedAt: time.Now(),
	}
	m.batches[b.ID] = b
	cp := *b
	return &cp, nil
}

func (m *memRepo) AvailableStock(_ context.Context, itemID int64, today time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		if b.ItemID == itemID && !b.IsExpired(today) {
			n += b.Quantity
		}
	}
	return n, nil
}

func (m *memRepo) StockByItem(_ context.Context, today time.Time) ([]ItemStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ItemStock
	for _, it := range m.items {
		s := ItemStock{Item: it}
		for _, b := range m.batches {
			if b.ItemID != it.ID {
				continue
			}
			if b.IsExpired(today) {
				s.Expired += b.Quantity
			} else {
				s.Available += b.Quantity
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) ListBatches(_ context.Context, itemID *int64) ([]BatchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BatchStatus
	for _, b := range m.batches {
		if itemID != nil && b.ItemID != *itemID {
			continue
		}
		out = append(out, BatchStatus{Batch: *b, ItemName: m.items[b.ItemID].Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) ListMovements(_ context.Context, itemID int64, limit int) ([]Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Movement
	for i := len(m.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if m.movements[i].ItemID == itemID {
			out = append(out, m.movements[i])
		}
	}
	return out, nil
}

func (m *memRepo) outFor(itemID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mv := range m.movements {
		if mv.ItemID == itemID && mv.Direction == DirectionOut {
			n += mv.Quantity
		}
	}
	return n
}

type fakeBiller struct {
	mu      sync.Mutex
	lines   []billing.LineInput
	invoice *billing.Invoice
	err     error
}

func (b *fakeBiller) AddMedicationLine(_ context.Context, _ int64, line billing.LineInput, _ int64) (*billing.Invoice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.lines = append(b.lines, line)
	return b.invoice, nil
}

type fixture struct {
	svc        *Service
	repo       *memRepo
	sink       *audittest.Recorder
	biller     *fakeBiller
	tx         *dbtest.TxRunner
	pharmacist int64
	doctor     int64
}

var today = day("2023-12-15")

func newFixture() *fixture {
	repo := newMemRepo()
	auth := accesstest.NewAuthorizer()
	sink := &audittest.Recorder{}
	biller := &fakeBiller{}
	tx := &dbtest.TxRunner{}
	policy := config.StockPolicy{CriticalLevel: 2, LowLevel: 10, ExpiryWarningDays: 30}

	svc := NewService(repo, tx, auth, sink, biller, policy, nil)
	svc.now = func() time.Time { return today.Add(9 * time.Hour) }

	repo.items[1] = Item{ID: 1, Name: "Paracetamol 500mg", Unit: "tablet", UnitPrice: decimal.RequireFromString("1500")}
	repo.batches[1] = &Batch{ID: 1, ItemID: 1, BatchNumber: "A", Quantity: 10, ExpiryDate: day("2024-01-01")}
	repo.batches[2] = &Batch{ID: 2, ItemID: 1, BatchNumber: "B", Quantity: 10, ExpiryDate: day("2024-06-01")}
	repo.lines[lineKey{7, 1}] = PrescriptionLine{
		PrescriptionID: 7, ItemID: 1, Quantity: 20, VisitID: 3,
		ItemName: "Paracetamol 500mg", UnitPrice: decimal.RequireFromString("1500"),
	}

	return &fixture{
		svc:        svc,
		repo:       repo,
		sink:       sink,
		biller:     biller,
		tx:         tx,
		pharmacist: auth.Grant(5, access.RolePharmacist),
		doctor:     auth.Grant(4, access.RoleDoctor),
	}
}

func TestDispenseFEFOScenario(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Dispense(context.Background(), 7, 1, 15, f.pharmacist)
	require.NoError(t, err)

	assert.Equal(t, 0, f.repo.batches[1].Quantity)
	assert.Equal(t, 5, f.repo.batches[2].Quantity)
	assert.Equal(t, 15, f.repo.outFor(1))
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, 5, res.StockLeft)
	assert.Equal(t, LevelLow, res.Level)
	assert.Nil(t, res.InvoiceID)

	for _, mv := range f.repo.movements {
		assert.Equal(t, RefPrescription, mv.ReferenceType)
		assert.Equal(t, int64(7), mv.ReferenceID)
		require.NotNil(t, mv.UnitPrice, "OUT movement carries the billed price")
		assert.True(t, decimal.RequireFromString("1500").Equal(*mv.UnitPrice))
	}
	assert.Len(t, f.sink.ChangesFor(tableBatches), 2)
	assert.Equal(t, []string{EventStockDispensed}, f.sink.EventTypes())

	require.Len(t, f.biller.lines, 1)
	assert.Equal(t, billing.LineMedication, f.biller.lines[0].Kind)
	assert.Equal(t, 15, f.biller.lines[0].Quantity)
	assert.True(t, decimal.RequireFromString("22500").Equal(f.biller.lines[0].Amount()))
}

func TestDispenseIsIdempotentPerLine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Dispense(ctx, 7, 1, 3, f.pharmacist)
	require.NoError(t, err)

	_, err = f.svc.Dispense(ctx, 7, 1, 3, f.pharmacist)
	assert.ErrorIs(t, err, ErrAlreadyDispensed)
	assert.Equal(t, 3, f.repo.outFor(1))
	assert.Len(t, f.repo.movements, 1)
}

func TestDispenseInsufficientStockWritesNothing(t *testing.T) {
	f := newFixture()
	f.repo.batches[1].ExpiryDate = day("2023-12-01")

	_, err := f.svc.Dispense(context.Background(), 7, 1, 15, f.pharmacist)
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 10, f.repo.batches[1].Quantity, "expired batch is never touched")
	assert.Equal(t, 10, f.repo.batches[2].Quantity)
	assert.Empty(t, f.repo.movements)
	assert.Empty(t, f.sink.Changes)
	assert.Empty(t, f.biller.lines)
	assert.Equal(t, 1, f.tx.Aborts)
}

func TestDispenseValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Dispense(ctx, 7, 1, 0, f.pharmacist)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = f.svc.Dispense(ctx, 7, 1, 21, f.pharmacist)
	assert.ErrorIs(t, err, ErrExceedsPrescribed)

	_, err = f.svc.Dispense(ctx, 8, 1, 1, f.pharmacist)
	assert.ErrorIs(t, err, ErrPrescriptionLineNotFound)

	_, err = f.svc.Dispense(ctx, 7, 1, 1, f.doctor)
	assert.ErrorIs(t, err, access.ErrForbidden)

	assert.Empty(t, f.repo.movements)
}

func TestDispenseRollsBackWhenInvoiceSettled(t *testing.T) {
	f := newFixture()
	f.biller.err = billing.ErrInvoiceSettled

	_, err := f.svc.Dispense(context.Background(), 7, 1, 4, f.pharmacist)
	require.ErrorIs(t, err, billing.ErrInvoiceSettled)
	assert.Equal(t, 1, f.tx.Aborts)
}

func TestDispenseAmendsIssuedInvoice(t *testing.T) {
	f := newFixture()
	f.biller.invoice = &billing.Invoice{ID: 44, VisitID: 3}

	res, err := f.svc.Dispense(context.Background(), 7, 1, 2, f.pharmacist)
	require.NoError(t, err)
	require.NotNil(t, res.InvoiceID)
	assert.Equal(t, int64(44), *res.InvoiceID)
}

func TestDispenseNotifiesOnCriticalStock(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Dispense(context.Background(), 7, 1, 18, f.pharmacist)
	require.NoError(t, err)
	require.Len(t, f.sink.RoleNotices, 1)
	assert.Equal(t, access.RolePharmacist, f.sink.RoleNotices[0].Role)
	assert.Contains(t, f.sink.RoleNotices[0].Content, "2 left")
}

func TestConcurrentDispenseSingleWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Dispense(ctx, 7, 1, 5, f.pharmacist)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyDispensed):
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, already)
	assert.Equal(t, 5, f.repo.outFor(1))
	assert.Equal(t, 15, f.repo.batches[1].Quantity+f.repo.batches[2].Quantity)
}

func TestReceiveBatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := ReceiveRequest{ItemID: 1, BatchNumber: " C-77 ", Supplier: "MedSupply", Quantity: 40, ExpiryDate: day("2025-01-01")}

	b, err := f.svc.ReceiveBatch(ctx, req, f.pharmacist)
	require.NoError(t, err)
	assert.Equal(t, "C-77", b.BatchNumber)
	require.Len(t, f.repo.movements, 1)
	assert.Equal(t, DirectionIn, f.repo.movements[0].Direction)
	assert.Equal(t, RefBatchReceipt, f.repo.movements[0].ReferenceType)
	assert.Equal(t, []string{EventBatchReceived}, f.sink.EventTypes())

	_, err = f.svc.ReceiveBatch(ctx, req, f.pharmacist)
	assert.ErrorIs(t, err, ErrDuplicateBatch)

	req.BatchNumber = "OLD"
	req.ExpiryDate = day("2023-12-14")
	_, err = f.svc.ReceiveBatch(ctx, req, f.pharmacist)
	assert.ErrorIs(t, err, ErrExpiredBatch)

	req.ExpiryDate = day("2025-01-01")
	req.Quantity = 0
	_, err = f.svc.ReceiveBatch(ctx, req, f.pharmacist)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	req.Quantity = 5
	req.ItemID = 99
	_, err = f.svc.ReceiveBatch(ctx, req, f.pharmacist)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestStockReads(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.items[2] = Item{ID: 2, Name: "Insulin", Unit: "vial", UnitPrice: decimal.RequireFromString("90000")}
	f.repo.batches[3] = &Batch{ID: 3, ItemID: 2, BatchNumber: "X", Quantity: 2, ExpiryDate: day("2024-01-10")}
	f.repo.batches[4] = &Batch{ID: 4, ItemID: 2, BatchNumber: "Y", Quantity: 30, ExpiryDate: day("2023-11-30")}

	lvl, err := f.svc.StockLevel(ctx, 1, f.pharmacist)
	require.NoError(t, err)
	assert.Equal(t, 20, lvl.Available)
	assert.Equal(t, LevelHealthy, lvl.Level)

	alerts, err := f.svc.StockAlerts(ctx, f.pharmacist)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, int64(2), alerts[0].ItemID)
	assert.Equal(t, LevelCritical, alerts[0].Level)
	assert.Equal(t, 30, alerts[0].Expired)

	expired := BatchExpired
	rows, err := f.svc.BatchStatus(ctx, BatchFilter{State: &expired}, f.pharmacist)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0].ID)

	soon, err := f.svc.ExpiringBatches(ctx, 30, f.pharmacist)
	require.NoError(t, err)
	var ids []int64
	for _, r := range soon {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 3}, ids)

	bogus := BatchState("ROTTEN")
	_, err = f.svc.BatchStatus(ctx, BatchFilter{State: &bogus}, f.pharmacist)
	assert.ErrorIs(t, err, ErrInvalidBatchState)
}

func TestWatchNotifiesOnlyOnTransitions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := NewWatch(f.svc, nil)

	report, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExpiryAlerts, "batch A expires in 17 days")
	assert.Equal(t, 0, report.LevelAlerts)
	assert.Len(t, f.sink.RoleNotices, 1)

	report, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.ExpiryAlerts+report.LevelAlerts)
	assert.Len(t, f.sink.RoleNotices, 1)

	f.repo.batches[2].Quantity = 0
	report, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LevelAlerts)
	assert.Equal(t, access.RolePharmacist, f.sink.RoleNotices[1].Role)
}

func TestWatchLogsAlertsAndRestartReAlerts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)

	_, err := NewWatch(f.svc, zap.New(core)).Sweep(ctx)
	require.NoError(t, err)

	// the sweep summary belongs to the caller
	assert.Zero(t, logs.FilterMessage("stock sweep complete").Len())
	alerts := logs.FilterMessage("stock alert sent").All()
	require.Len(t, alerts, 1)
	assert.Equal(t, zapcore.DebugLevel, alerts[0].Level)

	// a fresh process has no memory of what it already reported
	report, err := NewWatch(f.svc, nil).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExpiryAlerts)
	assert.Len(t, f.sink.RoleNotices, 2)
}
