package visit

import (
	"time"

	"github.com/shopspring/decimal"
)

type Visit struct {
	ID            int64      `json:"id"`
	AppointmentID int64      `json:"appointment_id"`
	DoctorID      int64      `json:"doctor_id"`
	PatientID     int64      `json:"patient_id"`
	ClinicalNote  string     `json:"clinical_note"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Open reports whether clinical records may still be appended.
func (v Visit) Open() bool { return v.EndedAt == nil }

type NewVisit struct {
	AppointmentID int64
	DoctorID      int64
	PatientID     int64
	ClinicalNote  string
}

type Diagnosis struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type VisitDiagnosis struct {
	ID          int64     `json:"id"`
	VisitID     int64     `json:"visit_id"`
	DiagnosisID int64     `json:"diagnosis_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Note        string    `json:"note"`
	CreatedBy   *int64    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type MedicalService struct {
	ID   int64           `json:"id"`
	Name string          `json:"name"`
	Fee  decimal.Decimal `json:"fee"`
}

// VisitService snapshots the fee at the time it was added so later catalog
// price changes do not alter the bill.
type VisitService struct {
	ID        int64           `json:"id"`
	VisitID   int64           `json:"visit_id"`
	ServiceID int64           `json:"service_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitFee   decimal.Decimal `json:"unit_fee"`
	CreatedBy *int64          `json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s VisitService) Amount() decimal.Decimal {
	return s.UnitFee.Mul(decimal.NewFromInt(int64(s.Quantity)))
}

type Prescription struct {
	ID           int64     `json:"id"`
	VisitID      int64     `json:"visit_id"`
	DoctorID     int64     `json:"doctor_id"`
	Note         string    `json:"note"`
	PrescribedAt time.Time `json:"prescribed_at"`
}

type PrescriptionItem struct {
	PrescriptionID int64     `json:"prescription_id"`
	ItemID         int64     `json:"pharmacy_item_id"`
	ItemName       string    `json:"item_name"`
	Quantity       int       `json:"quantity"`
	Dosage         string    `json:"dosage"`
	Instructions   string    `json:"instructions"`
	Dispensed      int       `json:"dispensed"`
	CreatedAt      time.Time `json:"created_at"`
}

type PrescriptionItemInput struct {
	PrescriptionID int64
	ItemID         int64
	Quantity       int
	Dosage         string
	Instructions   string
}

type PrescriptionDetail struct {
	Prescription
	Items []PrescriptionItem `json:"items"`
}

type Detail struct {
	Visit
	PatientName  string              `json:"patient_name"`
	DoctorName   string              `json:"doctor_name"`
	Diagnoses    []VisitDiagnosis    `json:"diagnoses"`
	Services     []VisitService      `json:"services"`
	Prescription *PrescriptionDetail `json:"prescription,omitempty"`
}

// HistoryEntry is one visit in a patient's history.
type HistoryEntry struct {
	Visit
	DoctorName    string           `json:"doctor_name"`
	Department    string           `json:"department"`
	Diagnoses     []string         `json:"diagnoses"`
	InvoiceID     *int64           `json:"invoice_id,omitempty"`
	InvoiceTotal  *decimal.Decimal `json:"invoice_total,omitempty"`
	InvoiceStatus *string          `json:"invoice_status,omitempty"`
}
