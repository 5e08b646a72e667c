package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-operations/internal/db"
)

const activeSlotIndex = "ux_appointments_active_slot"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const doctorSelect = `
	SELECT d.id, d.user_id, d.full_name, d.department_id, dep.name, d.status
	FROM doctors d
	JOIN departments dep ON dep.id = d.department_id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.FullName, &d.DepartmentID, &d.Department, &d.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanTimeSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(&s.ID, &s.Start, &s.End)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimeSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

const appointmentColumns = `id, patient_id, doctor_id, appt_date, timeslot_id, reason, status, booked_by, booked_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.TimeSlotID,
		&a.Reason,
		&a.Status,
		&a.BookedBy,
		&a.BookedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const detailSelect = `
	SELECT a.id, a.patient_id, a.doctor_id, a.appt_date, a.timeslot_id, a.reason, a.status,
	       a.booked_by, a.booked_at, a.updated_at,
	       p.full_name, d.full_name, dep.name,
	       to_char(ts.start_time, 'HH24:MI'), to_char(ts.end_time, 'HH24:MI')
	FROM appointments a
	JOIN patients p ON p.id = a.patient_id
	JOIN doctors d ON d.id = a.doctor_id
	JOIN departments dep ON dep.id = d.department_id
	JOIN time_slots ts ON ts.id = a.timeslot_id`

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	err := row.Scan(
		&d.ID, &d.PatientID, &d.DoctorID, &d.Date, &d.TimeSlotID, &d.Reason, &d.Status,
		&d.BookedBy, &d.BookedAt, &d.UpdatedAt,
		&d.PatientName, &d.DoctorName, &d.Department, &d.SlotStart, &d.SlotEnd,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Interface methods

func (r *PgRepository) PatientExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, doctorSelect+` WHERE d.id = $1`, id))
}

func (r *PgRepository) GetDoctorForShare(ctx context.Context, id int64) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, doctorSelect+` WHERE d.id = $1 FOR SHARE OF d`, id))
}

func (r *PgRepository) GetDoctorForUpdate(ctx context.Context, id int64) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, doctorSelect+` WHERE d.id = $1 FOR UPDATE OF d`, id))
}

func (r *PgRepository) ListDoctors(ctx context.Context, departmentID *int64) ([]Doctor, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, doctorSelect+`
		WHERE $1::bigint IS NULL OR d.department_id = $1
		ORDER BY d.full_name, d.id
	`, departmentID)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *PgRepository) UpdateDoctorStatus(ctx context.Context, id int64, status DoctorStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE doctors SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update doctor status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *PgRepository) GetTimeSlot(ctx context.Context, id int64) (*TimeSlot, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanTimeSlot(row)
}

func (r *PgRepository) ListTimeSlots(ctx context.Context) ([]TimeSlot, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM time_slots
		ORDER BY start_time, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	defer rows.Close()

	var out []TimeSlot
	for rows.Next() {
		s, err := scanTimeSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PgRepository) CreateAppointment(ctx context.Context, req BookingRequest, bookedBy int64) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, appt_date, timeslot_id, reason, status, booked_by)
		VALUES ($1, $2, $3, $4, $5, 'CREATED', $6)
		RETURNING `+appointmentColumns,
		req.PatientID, req.DoctorID, req.Date, req.TimeSlotID, req.Reason, bookedBy)

	appt, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, activeSlotIndex) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id int64, from, to Status) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns, id, from, to)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id int64) (*AppointmentDetail, error) {
	return scanDetail(db.Conn(ctx, r.pool).QueryRow(ctx, detailSelect+` WHERE a.id = $1`, id))
}

func (r *PgRepository) ListAppointmentDetails(ctx context.Context, f ScheduleFilter) ([]AppointmentDetail, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, detailSelect+`
		WHERE ($1::bigint IS NULL OR a.doctor_id = $1)
		  AND ($2::bigint IS NULL OR a.patient_id = $2)
		  AND ($3::date IS NULL OR a.appt_date >= $3)
		  AND ($4::date IS NULL OR a.appt_date <= $4)
		  AND ($5::text IS NULL OR a.status = $5)
		ORDER BY a.appt_date, ts.start_time, a.id
	`, f.DoctorID, f.PatientID, f.From, f.To, status)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *PgRepository) BookedSlotIDs(ctx context.Context, doctorID int64, date time.Time) ([]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT timeslot_id
		FROM appointments
		WHERE doctor_id = $1 AND appt_date = $2 AND status <> 'CANCELLED'
	`, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
