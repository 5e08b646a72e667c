package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/access/accesstest"
	"github.com/hackgods/hospital-operations/internal/audit/audittest"
	"github.com/hackgods/hospital-operations/internal/db/dbtest"
)

type memRepo struct {
	mu       sync.Mutex
	invoices map[int64]*Invoice
	lines    map[int64][]Line
	payments map[int64][]Payment
	nextID   int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		invoices: map[int64]*Invoice{},
		lines:    map[int64][]Line{},
		payments: map[int64][]Payment{},
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) CreateInvoice(_ context.Context, visitID int64, total decimal.Decimal) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.VisitID == visitID {
			return nil, ErrInvoiceExists
		}
	}
	inv := &Invoice{ID: m.id(), VisitID: visitID, Total: total, Status: StatusNotPaid, CreatedAt: time.Now()}
	m.invoices[inv.ID] = inv
	cp := *inv
	return &cp, nil
}

func (m *memRepo) InsertLines(_ context.Context, invoiceID int64, lines []LineInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range lines {
		m.lines[invoiceID] = append(m.lines[invoiceID], Line{
			ID: m.id(), InvoiceID: invoiceID, Kind: l.Kind, ReferenceID: l.ReferenceID,
			Description: l.Description, UnitPrice: l.UnitPrice, Quantity: l.Quantity, Amount: l.Amount(),
		})
	}
	return nil
}

func (m *memRepo) GetInvoice(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *memRepo) GetInvoiceByVisit(_ context.Context, visitID int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.VisitID == visitID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (m *memRepo) GetInvoiceByVisitForUpdate(ctx context.Context, visitID int64) (*Invoice, error) {
	return m.GetInvoiceByVisit(ctx, visitID)
}

func (m *memRepo) UpdateTotal(_ context.Context, id int64, total decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.invoices[id].Status == StatusPaid {
		return ErrInvoiceSettled
	}
	m.invoices[id].Total = total
	return nil
}

func (m *memRepo) MarkPaid(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.invoices[id].Status == StatusPaid {
		return ErrInvoiceSettled
	}
	m.invoices[id].Status = StatusPaid
	return nil
}

func (m *memRepo) SumPayments(_ context.Context, invoiceID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, p := range m.payments[invoiceID] {
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

func (m *memRepo) InsertPayment(_ context.Context, invoiceID int64, amount decimal.Decimal, method Method, actor int64) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Payment{ID: m.id(), InvoiceID: invoiceID, Amount: amount, Method: method, ActorID: &actor, PaidAt: time.Now()}
	m.payments[invoiceID] = append(m.payments[invoiceID], p)
	return &p, nil
}

func (m *memRepo) ListLines(_ context.Context, invoiceID int64) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines[invoiceID], nil
}

func (m *memRepo) ListPayments(_ context.Context, invoiceID int64) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[invoiceID], nil
}

func (m *memRepo) Tracker(_ context.Context, status *InvoiceStatus, _ int) ([]TrackerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TrackerRow
	for _, inv := range m.invoices {
		if status == nil || inv.Status == *status {
			out = append(out, TrackerRow{Invoice: *inv})
		}
	}
	return out, nil
}

func (m *memRepo) MonthlyRevenue(context.Context, time.Time, time.Time) ([]RevenueRow, error) {
	return nil, nil
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	sink    *audittest.Recorder
	finance int64
	doctor  int64
}

func newFixture() *fixture {
	repo := newMemRepo()
	auth := accesstest.NewAuthorizer()
	sink := &audittest.Recorder{}
	return &fixture{
		svc:     NewService(repo, &dbtest.TxRunner{}, auth, sink, nil),
		repo:    repo,
		sink:    sink,
		finance: auth.Grant(3, access.RoleFinance),
		doctor:  auth.Grant(4, access.RoleDoctor),
	}
}

func (f *fixture) invoice(t *testing.T, total string) *Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(context.Background(), 1, []LineInput{
		{Kind: LineService, ReferenceID: 1, Description: "consultation", UnitPrice: d(total), Quantity: 1},
	}, f.doctor)
	require.NoError(t, err)
	return inv
}

func TestCreateInvoiceTotalsLines(t *testing.T) {
	f := newFixture()

	inv, err := f.svc.CreateInvoice(context.Background(), 7, []LineInput{
		{Kind: LineService, ReferenceID: 1, Description: "x-ray", UnitPrice: d("200000"), Quantity: 1},
		{Kind: LineService, ReferenceID: 2, Description: "blood test", UnitPrice: d("50000"), Quantity: 2},
		{Kind: LineMedication, ReferenceID: 9, Description: "amoxicillin", UnitPrice: d("1500"), Quantity: 10},
	}, f.doctor)
	require.NoError(t, err)

	assert.True(t, d("315000").Equal(inv.Total))
	assert.Equal(t, StatusNotPaid, inv.Status)
	assert.Len(t, f.repo.lines[inv.ID], 3)
	require.Len(t, f.sink.RoleNotices, 1)
	assert.Equal(t, access.RoleFinance, f.sink.RoleNotices[0].Role)

	_, err = f.svc.CreateInvoice(context.Background(), 7, nil, f.doctor)
	assert.ErrorIs(t, err, ErrInvoiceExists)
}

func TestEmptyInvoiceIsSettledOnIssue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	inv, err := f.svc.CreateInvoice(ctx, 42, nil, f.doctor)
	require.NoError(t, err)
	assert.True(t, inv.Total.IsZero())
	assert.Equal(t, StatusPaid, inv.Status)

	detail, err := f.svc.GetInvoice(ctx, inv.ID, f.finance)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, detail.Status)
	assert.True(t, detail.Balance.IsZero())

	_, err = f.svc.RecordPayment(ctx, inv.ID, d("0.01"), MethodCash, f.finance)
	assert.ErrorIs(t, err, ErrOverPayment)

	// a dispense after settlement cannot reopen it
	_, err = f.svc.AddMedicationLine(ctx, 42, LineInput{
		Kind: LineMedication, ReferenceID: 9, Description: "ibuprofen", UnitPrice: d("250"), Quantity: 1,
	}, 0)
	assert.ErrorIs(t, err, ErrInvoiceSettled)

	assert.Empty(t, f.sink.RoleNotices)
	assert.Equal(t, []string{EventInvoiceIssued, EventInvoicePaid}, f.sink.EventTypes())
	status := f.sink.ChangesFor(tableInvoices)
	require.Len(t, status, 2)
	assert.Equal(t, "status", status[1].Field)
}

func TestCreateInvoiceRejectsBadLines(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateInvoice(context.Background(), 1, []LineInput{
		{Kind: LineService, UnitPrice: d("10"), Quantity: 0},
	}, f.doctor)
	assert.ErrorIs(t, err, ErrInvalidLine)
}

func TestPaymentScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv := f.invoice(t, "100000")

	res, err := f.svc.RecordPayment(ctx, inv.ID, d("60000"), MethodCash, f.finance)
	require.NoError(t, err)
	assert.True(t, d("40000").Equal(res.Balance))
	assert.Equal(t, StatusNotPaid, res.Status)

	res, err = f.svc.RecordPayment(ctx, inv.ID, d("40000"), MethodCreditCard, f.finance)
	require.NoError(t, err)
	assert.True(t, res.Balance.IsZero())
	assert.Equal(t, StatusPaid, res.Status)

	_, err = f.svc.RecordPayment(ctx, inv.ID, d("1"), MethodCash, f.finance)
	assert.ErrorIs(t, err, ErrOverPayment)

	detail, err := f.svc.GetInvoice(ctx, inv.ID, f.finance)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, detail.Status)
	assert.True(t, d("100000").Equal(detail.Paid))
	assert.True(t, detail.Balance.IsZero())
	assert.Len(t, detail.Payments, 2)

	assert.Contains(t, f.sink.EventTypes(), EventInvoicePaid)
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv := f.invoice(t, "500")

	_, err := f.svc.RecordPayment(ctx, inv.ID, d("10"), "BITCOIN", f.finance)
	assert.ErrorIs(t, err, ErrInvalidMethod)

	_, err = f.svc.RecordPayment(ctx, inv.ID, d("0"), MethodCash, f.finance)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.svc.RecordPayment(ctx, 999, d("10"), MethodCash, f.finance)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)

	_, err = f.svc.RecordPayment(ctx, inv.ID, d("10"), MethodCash, f.doctor)
	assert.ErrorIs(t, err, access.ErrForbidden)
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv := f.invoice(t, "1000")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		over int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordPayment(ctx, inv.ID, d("100"), MethodCash, f.finance)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrOverPayment):
				over++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 5, over)
	paid, _ := f.repo.SumPayments(ctx, inv.ID)
	assert.True(t, d("1000").Equal(paid))
	assert.Equal(t, StatusPaid, f.repo.invoices[inv.ID].Status)
}

func TestAddMedicationLine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	line := LineInput{Kind: LineMedication, ReferenceID: 9, Description: "ibuprofen", UnitPrice: d("250"), Quantity: 4}

	// no invoice yet
	inv, err := f.svc.AddMedicationLine(ctx, 1, line, 0)
	require.NoError(t, err)
	assert.Nil(t, inv)

	created := f.invoice(t, "1000")
	inv, err = f.svc.AddMedicationLine(ctx, 1, line, 0)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.True(t, d("2000").Equal(inv.Total))
	assert.Len(t, f.repo.lines[created.ID], 2)

	_, err = f.svc.RecordPayment(ctx, created.ID, d("2000"), MethodInsurance, f.finance)
	require.NoError(t, err)

	_, err = f.svc.AddMedicationLine(ctx, 1, line, 0)
	assert.ErrorIs(t, err, ErrInvoiceSettled)
	assert.True(t, d("2000").Equal(f.repo.invoices[created.ID].Total), "settled invoice unchanged")
}

func TestMonthlyRevenueRange(t *testing.T) {
	f := newFixture()
	now := time.Now()

	_, err := f.svc.MonthlyRevenue(context.Background(), now, now.AddDate(0, -1, 0), f.finance)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestInvoiceTrackerFilters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.invoice(t, "10")

	paid := StatusPaid
	rows, err := f.svc.InvoiceTracker(ctx, &paid, 0, f.finance)
	require.NoError(t, err)
	assert.Empty(t, rows)

	bogus := InvoiceStatus("VOID")
	_, err = f.svc.InvoiceTracker(ctx, &bogus, 0, f.finance)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
