package visit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/hospital-operations/internal/billing"
	"github.com/hackgods/hospital-operations/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const visitColumns = `id, appointment_id, doctor_id, patient_id, clinical_note, started_at, ended_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.AppointmentID, &v.DoctorID, &v.PatientID, &v.ClinicalNote, &v.StartedAt, &v.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVisitNotFound
		}
		return nil, err
	}
	return &v, nil
}

const prescriptionColumns = `id, visit_id, doctor_id, note, prescribed_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.VisitID, &p.DoctorID, &p.Note, &p.PrescribedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}
	return &p, nil
}

func parseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

func (r *PgRepository) PatientExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *PgRepository) CreateVisit(ctx context.Context, v NewVisit) (*Visit, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO visits (appointment_id, doctor_id, patient_id, clinical_note)
		VALUES ($1, $2, $3, $4)
		RETURNING `+visitColumns,
		v.AppointmentID, v.DoctorID, v.PatientID, v.ClinicalNote)
	out, err := scanVisit(row)
	if err != nil {
		if db.IsUniqueViolation(err, "visits_appointment_id_key") {
			return nil, ErrVisitExists
		}
		return nil, fmt.Errorf("insert visit: %w", err)
	}
	return out, nil
}

func (r *PgRepository) GetVisit(ctx context.Context, id int64) (*Visit, error) {
	return scanVisit(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id))
}

func (r *PgRepository) GetVisitForShare(ctx context.Context, id int64) (*Visit, error) {
	return scanVisit(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1 FOR SHARE`, id))
}

func (r *PgRepository) GetVisitForUpdate(ctx context.Context, id int64) (*Visit, error) {
	return scanVisit(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1 FOR UPDATE`, id))
}

func (r *PgRepository) CloseVisit(ctx context.Context, id int64) (*Visit, error) {
	return scanVisit(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE visits SET ended_at = now()
		WHERE id = $1 AND ended_at IS NULL
		RETURNING `+visitColumns, id))
}

func (r *PgRepository) GetDetailNames(ctx context.Context, id int64) (string, string, error) {
	var patient, doctor string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT p.full_name, d.full_name
		FROM visits v
		JOIN patients p ON p.id = v.patient_id
		JOIN doctors d ON d.id = v.doctor_id
		WHERE v.id = $1
	`, id).Scan(&patient, &doctor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrVisitNotFound
	}
	return patient, doctor, err
}

func (r *PgRepository) GetDiagnosis(ctx context.Context, id int64) (*Diagnosis, error) {
	var d Diagnosis
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, code, name FROM diagnoses WHERE id = $1`, id).
		Scan(&d.ID, &d.Code, &d.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDiagnosisNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) ListDiagnosisCatalog(ctx context.Context) ([]Diagnosis, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, code, name FROM diagnoses ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list diagnoses: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Diagnosis])
}

func (r *PgRepository) InsertDiagnosis(ctx context.Context, visitID int64, d Diagnosis, note string, actor int64) (*VisitDiagnosis, error) {
	vd := VisitDiagnosis{VisitID: visitID, DiagnosisID: d.ID, Code: d.Code, Name: d.Name, Note: note}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO visit_diagnoses (visit_id, diagnosis_id, note, created_by)
		VALUES ($1, $2, $3, NULLIF($4::bigint, 0))
		RETURNING id, created_by, created_at
	`, visitID, d.ID, note, actor).Scan(&vd.ID, &vd.CreatedBy, &vd.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert visit diagnosis: %w", err)
	}
	return &vd, nil
}

func (r *PgRepository) ListDiagnoses(ctx context.Context, visitID int64) ([]VisitDiagnosis, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT vd.id, vd.visit_id, vd.diagnosis_id, d.code, d.name, vd.note, vd.created_by, vd.created_at
		FROM visit_diagnoses vd
		JOIN diagnoses d ON d.id = vd.diagnosis_id
		WHERE vd.visit_id = $1
		ORDER BY vd.id
	`, visitID)
	if err != nil {
		return nil, fmt.Errorf("list visit diagnoses: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[VisitDiagnosis])
}

func scanMedicalService(row pgx.Row) (MedicalService, error) {
	var s MedicalService
	var fee string
	if err := row.Scan(&s.ID, &s.Name, &fee); err != nil {
		return s, err
	}
	var err error
	s.Fee, err = parseMoney(fee)
	return s, err
}

func (r *PgRepository) GetMedicalService(ctx context.Context, id int64) (*MedicalService, error) {
	s, err := scanMedicalService(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, fee::text FROM medical_services WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) ListServiceCatalog(ctx context.Context) ([]MedicalService, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, name, fee::text FROM medical_services ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list medical services: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MedicalService, error) { return scanMedicalService(row) })
}

func (r *PgRepository) InsertVisitService(ctx context.Context, visitID int64, svc MedicalService, qty int, actor int64) (*VisitService, error) {
	vs := VisitService{VisitID: visitID, ServiceID: svc.ID, Name: svc.Name, Quantity: qty, UnitFee: svc.Fee}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO visit_services (visit_id, service_id, quantity, unit_fee, created_by)
		VALUES ($1, $2, $3, $4::numeric, NULLIF($5::bigint, 0))
		RETURNING id, created_by, created_at
	`, visitID, svc.ID, qty, svc.Fee.String(), actor).Scan(&vs.ID, &vs.CreatedBy, &vs.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert visit service: %w", err)
	}
	return &vs, nil
}

func (r *PgRepository) ListServices(ctx context.Context, visitID int64) ([]VisitService, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT vs.id, vs.visit_id, vs.service_id, ms.name, vs.quantity, vs.unit_fee::text, vs.created_by, vs.created_at
		FROM visit_services vs
		JOIN medical_services ms ON ms.id = vs.service_id
		WHERE vs.visit_id = $1
		ORDER BY vs.id
	`, visitID)
	if err != nil {
		return nil, fmt.Errorf("list visit services: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (VisitService, error) {
		var s VisitService
		var fee string
		if err := row.Scan(&s.ID, &s.VisitID, &s.ServiceID, &s.Name, &s.Quantity, &fee, &s.CreatedBy, &s.CreatedAt); err != nil {
			return s, err
		}
		var err error
		s.UnitFee, err = parseMoney(fee)
		return s, err
	})
}

func (r *PgRepository) CreatePrescription(ctx context.Context, visitID, doctorID int64, note string) (*Prescription, error) {
	p, err := scanPrescription(db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescriptions (visit_id, doctor_id, note)
		VALUES ($1, $2, $3)
		RETURNING `+prescriptionColumns, visitID, doctorID, note))
	if err != nil {
		if db.IsUniqueViolation(err, "prescriptions_visit_id_key") {
			return nil, ErrPrescriptionExists
		}
		return nil, fmt.Errorf("insert prescription: %w", err)
	}
	return p, nil
}

func (r *PgRepository) GetPrescription(ctx context.Context, id int64) (*Prescription, error) {
	return scanPrescription(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id))
}

func (r *PgRepository) GetPrescriptionByVisit(ctx context.Context, visitID int64) (*Prescription, error) {
	return scanPrescription(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+prescriptionColumns+` FROM prescriptions WHERE visit_id = $1`, visitID))
}

func (r *PgRepository) GetItemName(ctx context.Context, itemID int64) (string, error) {
	var name string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT name FROM pharmacy_items WHERE id = $1`, itemID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrItemNotFound
	}
	return name, err
}

func (r *PgRepository) InsertPrescriptionItem(ctx context.Context, in PrescriptionItemInput) (*PrescriptionItem, error) {
	it := PrescriptionItem{
		PrescriptionID: in.PrescriptionID, ItemID: in.ItemID, Quantity: in.Quantity,
		Dosage: in.Dosage, Instructions: in.Instructions,
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescription_items (prescription_id, pharmacy_item_id, quantity, dosage, instructions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, in.PrescriptionID, in.ItemID, in.Quantity, in.Dosage, in.Instructions).Scan(&it.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "prescription_items_pkey") {
			return nil, ErrItemAlreadyPrescribed
		}
		return nil, fmt.Errorf("insert prescription item: %w", err)
	}
	return &it, nil
}

func (r *PgRepository) ListPrescriptionItems(ctx context.Context, prescriptionID int64) ([]PrescriptionItem, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT pi.prescription_id, pi.pharmacy_item_id, i.name, pi.quantity, pi.dosage, pi.instructions,
		       COALESCE((
		           SELECT SUM(m.quantity) FROM stock_movements m
		           WHERE m.direction = 'OUT' AND m.reference_type = 'PRESCRIPTION'
		             AND m.reference_id = pi.prescription_id AND m.item_id = pi.pharmacy_item_id
		       ), 0),
		       pi.created_at
		FROM prescription_items pi
		JOIN pharmacy_items i ON i.id = pi.pharmacy_item_id
		WHERE pi.prescription_id = $1
		ORDER BY i.name
	`, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("list prescription items: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[PrescriptionItem])
}

func (r *PgRepository) BillableLines(ctx context.Context, visitID int64) ([]billing.LineInput, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT 'SERVICE', vs.service_id, ms.name, vs.unit_fee::text, vs.quantity
		FROM visit_services vs
		JOIN medical_services ms ON ms.id = vs.service_id
		WHERE vs.visit_id = $1
		UNION ALL
		SELECT 'MEDICATION', m.item_id, i.name, m.unit_price::text, SUM(m.quantity)::int
		FROM prescriptions p
		JOIN stock_movements m
		  ON m.reference_type = 'PRESCRIPTION' AND m.reference_id = p.id AND m.direction = 'OUT'
		JOIN pharmacy_items i ON i.id = m.item_id
		WHERE p.visit_id = $1
		GROUP BY m.item_id, i.name, m.unit_price
	`, visitID)
	if err != nil {
		return nil, fmt.Errorf("billable lines: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (billing.LineInput, error) {
		var l billing.LineInput
		var price string
		if err := row.Scan(&l.Kind, &l.ReferenceID, &l.Description, &price, &l.Quantity); err != nil {
			return l, err
		}
		var err error
		l.UnitPrice, err = parseMoney(price)
		return l, err
	})
}

func (r *PgRepository) PatientHistory(ctx context.Context, patientID int64) ([]HistoryEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT v.id, v.appointment_id, v.doctor_id, v.patient_id, v.clinical_note, v.started_at, v.ended_at,
		       d.full_name, dep.name,
		       COALESCE(ARRAY(
		           SELECT dg.name FROM visit_diagnoses vd
		           JOIN diagnoses dg ON dg.id = vd.diagnosis_id
		           WHERE vd.visit_id = v.id ORDER BY vd.id
		       ), '{}'),
		       inv.id, inv.total_amount::text, inv.status
		FROM visits v
		JOIN doctors d ON d.id = v.doctor_id
		JOIN departments dep ON dep.id = d.department_id
		LEFT JOIN patient_invoices inv ON inv.visit_id = v.id
		WHERE v.patient_id = $1
		ORDER BY v.started_at DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("patient history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (HistoryEntry, error) {
		var h HistoryEntry
		var total *string
		err := row.Scan(&h.ID, &h.AppointmentID, &h.DoctorID, &h.PatientID, &h.ClinicalNote, &h.StartedAt, &h.EndedAt,
			&h.DoctorName, &h.Department, &h.Diagnoses, &h.InvoiceID, &total, &h.InvoiceStatus)
		if err != nil || total == nil {
			return h, err
		}
		amount, err := parseMoney(*total)
		h.InvoiceTotal = &amount
		return h, err
	})
}
