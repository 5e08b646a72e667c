package visit

import (
	"context"

	"github.com/hackgods/hospital-operations/internal/apperr"
	"github.com/hackgods/hospital-operations/internal/billing"
)

var (
	ErrVisitNotFound        = apperr.NotFound("VISIT_NOT_FOUND", "visit not found")
	ErrPatientNotFound      = apperr.NotFound("PATIENT_NOT_FOUND", "patient not found")
	ErrDiagnosisNotFound    = apperr.NotFound("DIAGNOSIS_NOT_FOUND", "diagnosis not found")
	ErrServiceNotFound      = apperr.NotFound("SERVICE_NOT_FOUND", "medical service not found")
	ErrPrescriptionNotFound = apperr.NotFound("PRESCRIPTION_NOT_FOUND", "prescription not found")
	ErrItemNotFound         = apperr.NotFound("ITEM_NOT_FOUND", "pharmacy item not found")

	ErrVisitExists           = apperr.Conflict("VISIT_EXISTS", "a visit already exists for this appointment")
	ErrPrescriptionExists    = apperr.Conflict("PRESCRIPTION_EXISTS", "this visit already has a prescription")
	ErrItemAlreadyPrescribed = apperr.Conflict("ITEM_ALREADY_PRESCRIBED", "item is already on this prescription")
)

// Repository holds the visit's clinical records. Appointment status changes
// and invoices go through their own packages.
type Repository interface {
	PatientExists(ctx context.Context, id int64) (bool, error)

	CreateVisit(ctx context.Context, v NewVisit) (*Visit, error)
	GetVisit(ctx context.Context, id int64) (*Visit, error)
	// GetVisitForShare keeps the visit open until commit; endVisit takes the
	// row exclusively.
	GetVisitForShare(ctx context.Context, id int64) (*Visit, error)
	GetVisitForUpdate(ctx context.Context, id int64) (*Visit, error)
	// CloseVisit sets ended_at once; ErrVisitNotFound if already closed.
	CloseVisit(ctx context.Context, id int64) (*Visit, error)
	GetDetailNames(ctx context.Context, id int64) (patient, doctor string, err error)

	GetDiagnosis(ctx context.Context, id int64) (*Diagnosis, error)
	ListDiagnosisCatalog(ctx context.Context) ([]Diagnosis, error)
	InsertDiagnosis(ctx context.Context, visitID int64, d Diagnosis, note string, actor int64) (*VisitDiagnosis, error)
	ListDiagnoses(ctx context.Context, visitID int64) ([]VisitDiagnosis, error)

	GetMedicalService(ctx context.Context, id int64) (*MedicalService, error)
	ListServiceCatalog(ctx context.Context) ([]MedicalService, error)
	InsertVisitService(ctx context.Context, visitID int64, svc MedicalService, qty int, actor int64) (*VisitService, error)
	ListServices(ctx context.Context, visitID int64) ([]VisitService, error)

	CreatePrescription(ctx context.Context, visitID, doctorID int64, note string) (*Prescription, error)
	GetPrescription(ctx context.Context, id int64) (*Prescription, error)
	GetPrescriptionByVisit(ctx context.Context, visitID int64) (*Prescription, error)
	GetItemName(ctx context.Context, itemID int64) (string, error)
	InsertPrescriptionItem(ctx context.Context, in PrescriptionItemInput) (*PrescriptionItem, error)
	ListPrescriptionItems(ctx context.Context, prescriptionID int64) ([]PrescriptionItem, error)

	// BillableLines returns one SERVICE line per visit service and one
	// MEDICATION line per dispensed prescription item.
	BillableLines(ctx context.Context, visitID int64) ([]billing.LineInput, error)
	PatientHistory(ctx context.Context, patientID int64) ([]HistoryEntry, error)
}
