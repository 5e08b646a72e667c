// Package visit runs the clinical encounter: it moves an appointment through
// IN_PROGRESS to COMPLETED, collects diagnoses, services and the
// prescription, and bills the visit when it ends.
package visit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/apperr"
	"github.com/hackgods/hospital-operations/internal/appointment"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/billing"
	"github.com/hackgods/hospital-operations/internal/db"
)

const (
	EventVisitStarted        = "visit.started"
	EventVisitCompleted      = "visit.completed"
	EventPrescriptionCreated = "prescription.created"

	aggregateVisit = "visit"

	tableAppointments      = "appointments"
	tableVisits            = "visits"
	tableVisitDiagnoses    = "visit_diagnoses"
	tableVisitServices     = "visit_services"
	tablePrescriptions     = "prescriptions"
	tablePrescriptionItems = "prescription_items"

	maxNoteLen = 2000
)

var (
	ErrInvalidState    = apperr.Conflict("INVALID_STATE", "visit is not in a state that allows this action")
	ErrDoctorMismatch  = apperr.Conflict("DOCTOR_MISMATCH", "appointment belongs to another doctor")
	ErrInvalidQuantity = apperr.Validation("INVALID_QUANTITY", "quantity must be a positive integer")
	ErrNoteTooLong     = apperr.Validation("NOTE_TOO_LONG", "note is too long")
)

// Appointments is the slice of the scheduling store a visit drives.
type Appointments interface {
	GetAppointmentForUpdate(ctx context.Context, id int64) (*appointment.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id int64, from, to appointment.Status) (*appointment.Appointment, error)
}

// Invoicer creates the visit's invoice inside the caller's transaction.
type Invoicer interface {
	CreateInvoice(ctx context.Context, visitID int64, lines []billing.LineInput, actor int64) (*billing.Invoice, error)
}

type Service struct {
	repo     Repository
	appts    Appointments
	invoicer Invoicer
	tx       db.TxRunner
	auth     access.Authorizer
	sink     audit.Recorder
	logger   *zap.Logger
}

func NewService(repo Repository, appts Appointments, invoicer Invoicer, tx db.TxRunner, auth access.Authorizer, sink audit.Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		appts:    appts,
		invoicer: invoicer,
		tx:       tx,
		auth:     auth,
		sink:     sink,
		logger:   logger,
	}
}

func cleanNote(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxNoteLen {
		return "", ErrNoteTooLong
	}
	return s, nil
}

// StartVisit moves a checked-in appointment to IN_PROGRESS and opens its visit.
func (s *Service) StartVisit(ctx context.Context, appointmentID, doctorID int64, note string, actor int64) (*Visit, error) {
	if err := s.auth.Require(ctx, actor, access.CapClinical); err != nil {
		return nil, err
	}
	note, err := cleanNote(note)
	if err != nil {
		return nil, err
	}

	var started *Visit
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		appt, err := s.appts.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.DoctorID != doctorID {
			return ErrDoctorMismatch
		}
		if appt.Status != appointment.StatusConfirmed {
			return ErrInvalidState.WithMessage(fmt.Sprintf("appointment is %s, a visit needs it CONFIRMED", appt.Status))
		}
		if _, err := s.appts.UpdateAppointmentStatus(ctx, appointmentID, appt.Status, appointment.StatusInProgress); err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}

		v, err := s.repo.CreateVisit(ctx, NewVisit{
			AppointmentID: appointmentID,
			DoctorID:      doctorID,
			PatientID:     appt.PatientID,
			ClinicalNote:  note,
		})
		if err != nil {
			return err
		}
		started = v

		if err := s.sink.Record(ctx,
			audit.Change{
				Actor: actor, Action: audit.ActionUpdate, Table: tableAppointments, RecordID: appointmentID,
				Field: "status", Old: appt.Status, New: appointment.StatusInProgress,
			},
			audit.Change{
				Actor: actor, Action: audit.ActionInsert, Table: tableVisits, RecordID: v.ID,
				Field: "appointment_id", New: appointmentID,
			},
		); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateVisit, AggregateID: v.ID, Type: EventVisitStarted,
			Payload: map[string]any{"appointment_id": appointmentID, "doctor_id": doctorID, "patient_id": appt.PatientID},
		})
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

// openVisit share-locks the visit and rejects a closed one.
func (s *Service) openVisit(ctx context.Context, visitID int64) (*Visit, error) {
	v, err := s.repo.GetVisitForShare(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if !v.Open() {
		return nil, ErrInvalidState.WithMessage(fmt.Sprintf("visit #%d is already completed", visitID))
	}
	return v, nil
}

func (s *Service) AddDiagnosis(ctx context.Context, visitID, diagnosisID int64, note string, actor int64) (*VisitDiagnosis, error) {
	if err := s.auth.Require(ctx, actor, access.CapClinical); err != nil {
		return nil, err
	}
	note, err := cleanNote(note)
	if err != nil {
		return nil, err
	}

	var added *VisitDiagnosis
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.openVisit(ctx, visitID); err != nil {
			return err
		}
		d, err := s.repo.GetDiagnosis(ctx, diagnosisID)
		if err != nil {
			return err
		}
		added, err = s.repo.InsertDiagnosis(ctx, visitID, *d, note, actor)
		if err != nil {
			return err
		}
		return s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionInsert, Table: tableVisitDiagnoses, RecordID: added.ID,
			Field: "diagnosis_id", New: d.Code,
		})
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// AddVisitService records a billable service at the catalog fee of the moment.
func (s *Service) AddVisitService(ctx context.Context, visitID, serviceID int64, qty int, actor int64) (*VisitService, error) {
	if err := s.auth.Require(ctx, actor, access.CapClinical); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	var added *VisitService
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.openVisit(ctx, visitID); err != nil {
			return err
		}
		svc, err := s.repo.GetMedicalService(ctx, serviceID)
		if err != nil {
			return err
		}
		added, err = s.repo.InsertVisitService(ctx, visitID, *svc, qty, actor)
		if err != nil {
			return err
		}
		return s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionInsert, Table: tableVisitServices, RecordID: added.ID,
			Field: "quantity", New: qty,
		})
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (s *Service) CreatePrescription(ctx context.Context, visitID, doctorID int64, note string, actor int64) (*Prescription, error) {
	if err := s.auth.Require(ctx, actor, access.CapClinical); err != nil {
		return nil, err
	}
	note, err := cleanNote(note)
	if err != nil {
		return nil, err
	}

	var created *Prescription
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		v, err := s.openVisit(ctx, visitID)
		if err != nil {
			return err
		}
		if v.DoctorID != doctorID {
			return ErrDoctorMismatch.WithMessage("only the treating doctor can prescribe for this visit")
		}
		created, err = s.repo.CreatePrescription(ctx, visitID, doctorID, note)
		if err != nil {
			return err
		}
		if err := s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionInsert, Table: tablePrescriptions, RecordID: created.ID,
			Field: "visit_id", New: visitID,
		}); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateVisit, AggregateID: visitID, Type: EventPrescriptionCreated,
			Payload: map[string]any{"prescription_id": created.ID},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AddPrescriptionItem puts an item on the prescription. Stock is untouched
// until the pharmacy dispenses it.
func (s *Service) AddPrescriptionItem(ctx context.Context, in PrescriptionItemInput, actor int64) (*PrescriptionItem, error) {
	if err := s.auth.Require(ctx, actor, access.CapClinical); err != nil {
		return nil, err
	}
	if in.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	in.Dosage = strings.TrimSpace(in.Dosage)
	in.Instructions = strings.TrimSpace(in.Instructions)
	if len(in.Dosage) > maxNoteLen || len(in.Instructions) > maxNoteLen {
		return nil, ErrNoteTooLong
	}

	var added *PrescriptionItem
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetPrescription(ctx, in.PrescriptionID)
		if err != nil {
			return err
		}
		if _, err := s.openVisit(ctx, p.VisitID); err != nil {
			return err
		}
		name, err := s.repo.GetItemName(ctx, in.ItemID)
		if err != nil {
			return err
		}
		added, err = s.repo.InsertPrescriptionItem(ctx, in)
		if err != nil {
			return err
		}
		added.ItemName = name
		return s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionInsert, Table: tablePrescriptionItems, RecordID: in.PrescriptionID,
			Field: "pharmacy_item_id", New: in.ItemID,
		})
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// EndVisit completes the appointment and issues the invoice in one
// transaction. Only medication dispensed so far is billed; later dispenses
// amend the invoice.
func (s *Service) EndVisit(ctx context.Context, visitID, actor int64) (*billing.Invoice, error) {
	if err := s.auth.Require(ctx, actor, access.CapClinical); err != nil {
		return nil, err
	}

	var invoice *billing.Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetVisitForUpdate(ctx, visitID)
		if err != nil {
			return err
		}
		if !v.Open() {
			return ErrInvalidState.WithMessage(fmt.Sprintf("visit #%d is already completed", visitID))
		}
		appt, err := s.appts.GetAppointmentForUpdate(ctx, v.AppointmentID)
		if err != nil {
			return err
		}
		if appt.Status != appointment.StatusInProgress {
			return ErrInvalidState.WithMessage(fmt.Sprintf("appointment is %s, expected IN_PROGRESS", appt.Status))
		}

		if _, err := s.appts.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, appointment.StatusCompleted); err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}
		closed, err := s.repo.CloseVisit(ctx, visitID)
		if err != nil {
			if errors.Is(err, ErrVisitNotFound) {
				return ErrInvalidState
			}
			return err
		}

		lines, err := s.repo.BillableLines(ctx, visitID)
		if err != nil {
			return err
		}
		invoice, err = s.invoicer.CreateInvoice(ctx, visitID, lines, actor)
		if err != nil {
			return err
		}

		if err := s.sink.Record(ctx,
			audit.Change{
				Actor: actor, Action: audit.ActionUpdate, Table: tableAppointments, RecordID: appt.ID,
				Field: "status", Old: appt.Status, New: appointment.StatusCompleted,
			},
			audit.Change{
				Actor: actor, Action: audit.ActionUpdate, Table: tableVisits, RecordID: visitID,
				Field: "ended_at", New: closed.EndedAt.Format(time.RFC3339),
			},
		); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateVisit, AggregateID: visitID, Type: EventVisitCompleted,
			Payload: map[string]any{
				"appointment_id": appt.ID,
				"invoice_id":     invoice.ID,
				"total":          invoice.Total.StringFixed(2),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("visit completed",
		zap.Int64("visit_id", visitID),
		zap.Int64("invoice_id", invoice.ID),
		zap.String("total", invoice.Total.StringFixed(2)),
	)
	return invoice, nil
}

func (s *Service) GetVisit(ctx context.Context, visitID, actor int64) (*Detail, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewHistory); err != nil {
		return nil, err
	}
	v, err := s.repo.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	out := &Detail{Visit: *v}
	if out.PatientName, out.DoctorName, err = s.repo.GetDetailNames(ctx, visitID); err != nil {
		return nil, err
	}
	if out.Diagnoses, err = s.repo.ListDiagnoses(ctx, visitID); err != nil {
		return nil, err
	}
	if out.Services, err = s.repo.ListServices(ctx, visitID); err != nil {
		return nil, err
	}

	p, err := s.repo.GetPrescriptionByVisit(ctx, visitID)
	switch {
	case errors.Is(err, ErrPrescriptionNotFound):
		return out, nil
	case err != nil:
		return nil, err
	}
	pd, err := s.prescriptionDetail(ctx, p)
	if err != nil {
		return nil, err
	}
	out.Prescription = pd
	return out, nil
}

func (s *Service) prescriptionDetail(ctx context.Context, p *Prescription) (*PrescriptionDetail, error) {
	items, err := s.repo.ListPrescriptionItems(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &PrescriptionDetail{Prescription: *p, Items: items}, nil
}

// GetPrescription serves both the doctor's view and the pharmacy counter.
func (s *Service) GetPrescription(ctx context.Context, prescriptionID, actor int64) (*PrescriptionDetail, error) {
	if err := s.auth.Require(ctx, actor, access.CapDispense); err != nil {
		if err := s.auth.Require(ctx, actor, access.CapViewHistory); err != nil {
			return nil, err
		}
	}
	p, err := s.repo.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	return s.prescriptionDetail(ctx, p)
}

func (s *Service) PatientHistory(ctx context.Context, patientID, actor int64) ([]HistoryEntry, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewHistory); err != nil {
		return nil, err
	}
	ok, err := s.repo.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPatientNotFound
	}
	return s.repo.PatientHistory(ctx, patientID)
}

func (s *Service) DiagnosisCatalog(ctx context.Context, actor int64) ([]Diagnosis, error) {
	if err := s.auth.Require(ctx, actor, access.CapClinical); err != nil {
		return nil, err
	}
	return s.repo.ListDiagnosisCatalog(ctx)
}

func (s *Service) ServiceCatalog(ctx context.Context, actor int64) ([]MedicalService, error) {
	if err := s.auth.Require(ctx, actor, access.CapClinical); err != nil {
		return nil, err
	}
	return s.repo.ListServiceCatalog(ctx)
}
