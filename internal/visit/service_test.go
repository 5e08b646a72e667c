package visit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/access/accesstest"
	"github.com/hackgods/hospital-operations/internal/appointment"
	"github.com/hackgods/hospital-operations/internal/audit/audittest"
	"github.com/hackgods/hospital-operations/internal/billing"
	"github.com/hackgods/hospital-operations/internal/db/dbtest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type itemKey struct{ prescription, item int64 }

type memRepo struct {
	mu            sync.Mutex
	patients      map[int64]bool
	visits        map[int64]*Visit
	catalog       map[int64]Diagnosis
	services      map[int64]MedicalService
	items         map[int64]string
	diagnoses     []VisitDiagnosis
	visitServices []VisitService
	prescriptions map[int64]*Prescription
	rxItems       map[itemKey]PrescriptionItem
	// dispensed[prescription][item] simulates OUT movements.
	dispensed map[int64]map[int64]int
	nextID    int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:      map[int64]bool{1: true},
		visits:        map[int64]*Visit{},
		catalog:       map[int64]Diagnosis{1: {ID: 1, Code: "J06.9", Name: "Upper respiratory infection"}},
		services:      map[int64]MedicalService{1: {ID: 1, Name: "Consultation", Fee: d("50000")}, 2: {ID: 2, Name: "Blood test", Fee: d("25000")}},
		items:         map[int64]string{1: "Amoxicillin 500mg"},
		prescriptions: map[int64]*Prescription{},
		rxItems:       map[itemKey]PrescriptionItem{},
		dispensed:     map[int64]map[int64]int{},
		nextID:        10,
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) PatientExists(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patients[id], nil
}

func (m *memRepo) CreateVisit(_ context.Context, nv NewVisit) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.visits {
		if v.AppointmentID == nv.AppointmentID {
			return nil, ErrVisitExists
		}
	}
	v := &Visit{ID: m.id(), AppointmentID: nv.AppointmentID, DoctorID: nv.DoctorID, PatientID: nv.PatientID,
		ClinicalNote: nv.ClinicalNote, StartedAt: time.Now()}
	m.visits[v.ID] = v
	cp := *v
	return &cp, nil
}

func (m *memRepo) GetVisit(_ context.Context, id int64) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, ErrVisitNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memRepo) GetVisitForShare(ctx context.Context, id int64) (*Visit, error) {
	return m.GetVisit(ctx, id)
}

func (m *memRepo) GetVisitForUpdate(ctx context.Context, id int64) (*Visit, error) {
	return m.GetVisit(ctx, id)
}

func (m *memRepo) CloseVisit(_ context.Context, id int64) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok || v.EndedAt != nil {
		return nil, ErrVisitNotFound
	}
	now := time.Now()
	v.EndedAt = &now
	cp := *v
	return &cp, nil
}

func (m *memRepo) GetDetailNames(context.Context, int64) (string, string, error) {
	return "Jane Roe", "Dr. House", nil
}

func (m *memRepo) GetDiagnosis(_ context.Context, id int64) (*Diagnosis, error) {
	dg, ok := m.catalog[id]
	if !ok {
		return nil, ErrDiagnosisNotFound
	}
	return &dg, nil
}

func (m *memRepo) ListDiagnosisCatalog(context.Context) ([]Diagnosis, error) {
	var out []Diagnosis
	for _, dg := range m.catalog {
		out = append(out, dg)
	}
	return out, nil
}

func (m *memRepo) InsertDiagnosis(_ context.Context, visitID int64, dg Diagnosis, note string, actor int64) (*VisitDiagnosis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vd := VisitDiagnosis{ID: m.id(), VisitID: visitID, DiagnosisID: dg.ID, Code: dg.Code, Name: dg.Name, Note: note, CreatedBy: &actor}
	m.diagnoses = append(m.diagnoses, vd)
	return &vd, nil
}

func (m *memRepo) ListDiagnoses(_ context.Context, visitID int64) ([]VisitDiagnosis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VisitDiagnosis
	for _, vd := range m.diagnoses {
		if vd.VisitID == visitID {
			out = append(out, vd)
		}
	}
	return out, nil
}

func (m *memRepo) GetMedicalService(_ context.Context, id int64) (*MedicalService, error) {
	s, ok := m.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (m *memRepo) ListServiceCatalog(context.Context) ([]MedicalService, error) {
	var out []MedicalService
	for _, s := range m.services {
		out = append(out, s)
	}
	return out, nil
}

func (m *memRepo) InsertVisitService(_ context.Context, visitID int64, svc MedicalService, qty int, actor int64) (*VisitService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := VisitService{ID: m.id(), VisitID: visitID, ServiceID: svc.ID, Name: svc.Name, Quantity: qty, UnitFee: svc.Fee, CreatedBy: &actor}
	m.visitServices = append(m.visitServices, vs)
	return &vs, nil
}

func (m *memRepo) ListServices(_ context.Context, visitID int64) ([]VisitService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VisitService
	for _, vs := range m.visitServices {
		if vs.VisitID == visitID {
			out = append(out, vs)
		}
	}
	return out, nil
}

func (m *memRepo) CreatePrescription(_ context.Context, visitID, doctorID int64, note string) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prescriptions {
		if p.VisitID == visitID {
			return nil, ErrPrescriptionExists
		}
	}
	p := &Prescription{ID: m.id(), VisitID: visitID, DoctorID: doctorID, Note: note, PrescribedAt: time.Now()}
	m.prescriptions[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetPrescription(_ context.Context, id int64) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, ErrPrescriptionNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetPrescriptionByVisit(_ context.Context, visitID int64) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prescriptions {
		if p.VisitID == visitID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPrescriptionNotFound
}

func (m *memRepo) GetItemName(_ context.Context, itemID int64) (string, error) {
	name, ok := m.items[itemID]
	if !ok {
		return "", ErrItemNotFound
	}
	return name, nil
}

func (m *memRepo) InsertPrescriptionItem(_ context.Context, in PrescriptionItemInput) (*PrescriptionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey{in.PrescriptionID, in.ItemID}
	if _, ok := m.rxItems[k]; ok {
		return nil, ErrItemAlreadyPrescribed
	}
	it := PrescriptionItem{PrescriptionID: in.PrescriptionID, ItemID: in.ItemID, Quantity: in.Quantity,
		Dosage: in.Dosage, Instructions: in.Instructions, CreatedAt: time.Now()}
	m.rxItems[k] = it
	return &it, nil
}

func (m *memRepo) ListPrescriptionItems(_ context.Context, prescriptionID int64) ([]PrescriptionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PrescriptionItem
	for k, it := range m.rxItems {
		if k.prescription == prescriptionID {
			it.ItemName = m.items[k.item]
			it.Dispensed = m.dispensed[prescriptionID][k.item]
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *memRepo) BillableLines(_ context.Context, visitID int64) ([]billing.LineInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []billing.LineInput
	for _, vs := range m.visitServices {
		if vs.VisitID == visitID {
			out = append(out, billing.LineInput{Kind: billing.LineService, ReferenceID: vs.ServiceID,
				Description: vs.Name, UnitPrice: vs.UnitFee, Quantity: vs.Quantity})
		}
	}
	for _, p := range m.prescriptions {
		if p.VisitID != visitID {
			continue
		}
		for item, qty := range m.dispensed[p.ID] {
			out = append(out, billing.LineInput{Kind: billing.LineMedication, ReferenceID: item,
				Description: m.items[item], UnitPrice: d("1200"), Quantity: qty})
		}
	}
	return out, nil
}

func (m *memRepo) PatientHistory(_ context.Context, patientID int64) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, v := range m.visits {
		if v.PatientID == patientID {
			out = append(out, HistoryEntry{Visit: *v})
		}
	}
	return out, nil
}

type memAppointments struct {
	mu    sync.Mutex
	appts map[int64]*appointment.Appointment
}

func (a *memAppointments) GetAppointmentForUpdate(_ context.Context, id int64) (*appointment.Appointment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	appt, ok := a.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (a *memAppointments) UpdateAppointmentStatus(_ context.Context, id int64, from, to appointment.Status) (*appointment.Appointment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	appt, ok := a.appts[id]
	if !ok || appt.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	appt.Status = to
	cp := *appt
	return &cp, nil
}

type fakeInvoicer struct {
	lines []billing.LineInput
	err   error
}

func (f *fakeInvoicer) CreateInvoice(_ context.Context, visitID int64, lines []billing.LineInput, _ int64) (*billing.Invoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lines = lines
	return &billing.Invoice{ID: 900 + visitID, VisitID: visitID, Total: billing.Total(lines), Status: billing.StatusNotPaid}, nil
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	appts    *memAppointments
	invoicer *fakeInvoicer
	sink     *audittest.Recorder
	tx       *dbtest.TxRunner
	doctor   int64
	clerk    int64
}

const doctorID = 5

func newFixture() *fixture {
	repo := newMemRepo()
	appts := &memAppointments{appts: map[int64]*appointment.Appointment{
		1: {ID: 1, PatientID: 1, DoctorID: doctorID, Status: appointment.StatusConfirmed},
		2: {ID: 2, PatientID: 1, DoctorID: doctorID, Status: appointment.StatusCreated},
	}}
	invoicer := &fakeInvoicer{}
	auth := accesstest.NewAuthorizer()
	sink := &audittest.Recorder{}
	tx := &dbtest.TxRunner{}
	return &fixture{
		svc:      NewService(repo, appts, invoicer, tx, auth, sink, nil),
		repo:     repo,
		appts:    appts,
		invoicer: invoicer,
		sink:     sink,
		tx:       tx,
		doctor:   auth.Grant(50, access.RoleDoctor),
		clerk:    auth.Grant(60, access.RoleReceptionist),
	}
}

func (f *fixture) start(t *testing.T) *Visit {
	t.Helper()
	v, err := f.svc.StartVisit(context.Background(), 1, doctorID, "cough for three days", f.doctor)
	require.NoError(t, err)
	return v
}

func TestStartVisit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.StartVisit(ctx, 1, 99, "", f.doctor)
	assert.ErrorIs(t, err, ErrDoctorMismatch)

	_, err = f.svc.StartVisit(ctx, 2, doctorID, "", f.doctor)
	assert.ErrorIs(t, err, ErrInvalidState, "CREATED appointment has not been checked in")

	_, err = f.svc.StartVisit(ctx, 1, doctorID, "", f.clerk)
	assert.ErrorIs(t, err, access.ErrForbidden)

	v := f.start(t)
	assert.True(t, v.Open())
	assert.Equal(t, int64(1), v.PatientID)
	assert.Equal(t, appointment.StatusInProgress, f.appts.appts[1].Status)
	assert.Equal(t, []string{EventVisitStarted}, f.sink.EventTypes())

	_, err = f.svc.StartVisit(ctx, 1, doctorID, "", f.doctor)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEndVisitBillsServicesAndDispensedMedication(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.start(t)

	_, err := f.svc.AddDiagnosis(ctx, v.ID, 1, "viral", f.doctor)
	require.NoError(t, err)
	_, err = f.svc.AddVisitService(ctx, v.ID, 1, 1, f.doctor)
	require.NoError(t, err)
	_, err = f.svc.AddVisitService(ctx, v.ID, 2, 2, f.doctor)
	require.NoError(t, err)

	p, err := f.svc.CreatePrescription(ctx, v.ID, doctorID, "", f.doctor)
	require.NoError(t, err)
	_, err = f.svc.AddPrescriptionItem(ctx, PrescriptionItemInput{PrescriptionID: p.ID, ItemID: 1, Quantity: 10, Dosage: "1x3"}, f.doctor)
	require.NoError(t, err)
	f.repo.dispensed[p.ID] = map[int64]int{1: 10}

	inv, err := f.svc.EndVisit(ctx, v.ID, f.doctor)
	require.NoError(t, err)

	// 50000 + 2*25000 + 10*1200
	assert.True(t, d("112000").Equal(inv.Total), inv.Total.String())
	assert.Equal(t, billing.StatusNotPaid, inv.Status)
	assert.Len(t, f.invoicer.lines, 3)
	assert.Equal(t, appointment.StatusCompleted, f.appts.appts[1].Status)
	assert.NotNil(t, f.repo.visits[v.ID].EndedAt)
	assert.Contains(t, f.sink.EventTypes(), EventVisitCompleted)

	_, err = f.svc.EndVisit(ctx, v.ID, f.doctor)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUndispensedItemsAreNotBilled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.start(t)

	_, err := f.svc.AddVisitService(ctx, v.ID, 1, 1, f.doctor)
	require.NoError(t, err)
	p, err := f.svc.CreatePrescription(ctx, v.ID, doctorID, "", f.doctor)
	require.NoError(t, err)
	_, err = f.svc.AddPrescriptionItem(ctx, PrescriptionItemInput{PrescriptionID: p.ID, ItemID: 1, Quantity: 10}, f.doctor)
	require.NoError(t, err)

	inv, err := f.svc.EndVisit(ctx, v.ID, f.doctor)
	require.NoError(t, err)
	assert.True(t, d("50000").Equal(inv.Total))
}

func TestClosedVisitRejectsClinicalWrites(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.start(t)
	p, err := f.svc.CreatePrescription(ctx, v.ID, doctorID, "", f.doctor)
	require.NoError(t, err)
	_, err = f.svc.EndVisit(ctx, v.ID, f.doctor)
	require.NoError(t, err)

	_, err = f.svc.AddDiagnosis(ctx, v.ID, 1, "", f.doctor)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.AddVisitService(ctx, v.ID, 1, 1, f.doctor)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.AddPrescriptionItem(ctx, PrescriptionItemInput{PrescriptionID: p.ID, ItemID: 1, Quantity: 1}, f.doctor)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEndVisitInvoiceFailureRollsBack(t *testing.T) {
	f := newFixture()
	v := f.start(t)
	f.invoicer.err = billing.ErrInvoiceExists

	_, err := f.svc.EndVisit(context.Background(), v.ID, f.doctor)
	require.ErrorIs(t, err, billing.ErrInvoiceExists)
	assert.Equal(t, 1, f.tx.Aborts)
}

func TestPrescriptionRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.start(t)

	_, err := f.svc.CreatePrescription(ctx, v.ID, 77, "", f.doctor)
	assert.ErrorIs(t, err, ErrDoctorMismatch)

	p, err := f.svc.CreatePrescription(ctx, v.ID, doctorID, "", f.doctor)
	require.NoError(t, err)
	_, err = f.svc.CreatePrescription(ctx, v.ID, doctorID, "", f.doctor)
	assert.ErrorIs(t, err, ErrPrescriptionExists)

	in := PrescriptionItemInput{PrescriptionID: p.ID, ItemID: 1, Quantity: 0}
	_, err = f.svc.AddPrescriptionItem(ctx, in, f.doctor)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	in.Quantity = 3
	in.ItemID = 42
	_, err = f.svc.AddPrescriptionItem(ctx, in, f.doctor)
	assert.ErrorIs(t, err, ErrItemNotFound)

	in.ItemID = 1
	item, err := f.svc.AddPrescriptionItem(ctx, in, f.doctor)
	require.NoError(t, err)
	assert.Equal(t, "Amoxicillin 500mg", item.ItemName)

	_, err = f.svc.AddPrescriptionItem(ctx, in, f.doctor)
	assert.ErrorIs(t, err, ErrItemAlreadyPrescribed)
}

func TestAddVisitServiceValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.start(t)

	_, err := f.svc.AddVisitService(ctx, v.ID, 1, 0, f.doctor)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.svc.AddVisitService(ctx, v.ID, 9, 1, f.doctor)
	assert.ErrorIs(t, err, ErrServiceNotFound)
	_, err = f.svc.AddDiagnosis(ctx, 404, 1, "", f.doctor)
	assert.ErrorIs(t, err, ErrVisitNotFound)
}

func TestGetVisitAndHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.start(t)
	_, err := f.svc.AddDiagnosis(ctx, v.ID, 1, "", f.doctor)
	require.NoError(t, err)

	detail, err := f.svc.GetVisit(ctx, v.ID, f.doctor)
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", detail.PatientName)
	assert.Len(t, detail.Diagnoses, 1)
	assert.Nil(t, detail.Prescription)

	history, err := f.svc.PatientHistory(ctx, 1, f.doctor)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = f.svc.PatientHistory(ctx, 2, f.doctor)
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = f.svc.GetVisit(ctx, v.ID, f.clerk)
	assert.ErrorIs(t, err, access.ErrForbidden)
}
