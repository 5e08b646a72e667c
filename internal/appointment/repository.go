package appointment

import (
	"context"
	"time"

	"github.com/hackgods/hospital-operations/internal/apperr"
)

var (
	ErrPatientNotFound     = apperr.NotFound("PATIENT_NOT_FOUND", "patient not found")
	ErrDoctorNotFound      = apperr.NotFound("DOCTOR_NOT_FOUND", "doctor not found")
	ErrTimeSlotNotFound    = apperr.NotFound("TIMESLOT_NOT_FOUND", "time slot not found")
	ErrAppointmentNotFound = apperr.NotFound("APPOINTMENT_NOT_FOUND", "appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	PatientExists(ctx context.Context, id int64) (bool, error)

	GetDoctor(ctx context.Context, id int64) (*Doctor, error)
	// GetDoctorForShare blocks concurrent status changes until commit.
	GetDoctorForShare(ctx context.Context, id int64) (*Doctor, error)
	GetDoctorForUpdate(ctx context.Context, id int64) (*Doctor, error)
	ListDoctors(ctx context.Context, departmentID *int64) ([]Doctor, error)
	UpdateDoctorStatus(ctx context.Context, id int64, status DoctorStatus) error

	GetTimeSlot(ctx context.Context, id int64) (*TimeSlot, error)
	ListTimeSlots(ctx context.Context) ([]TimeSlot, error)

	// CreateAppointment returns ErrSlotTaken when another live appointment
	// holds the same doctor, date and slot.
	CreateAppointment(ctx context.Context, req BookingRequest, bookedBy int64) (*Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id int64) (*Appointment, error)
	// UpdateAppointmentStatus is a compare-and-set on status.
	UpdateAppointmentStatus(ctx context.Context, id int64, from, to Status) (*Appointment, error)

	GetAppointmentDetail(ctx context.Context, id int64) (*AppointmentDetail, error)
	ListAppointmentDetails(ctx context.Context, f ScheduleFilter) ([]AppointmentDetail, error)
	BookedSlotIDs(ctx context.Context, doctorID int64, date time.Time) ([]int64, error)
}
