package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/apperr"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/db"
	redisclient "github.com/hackgods/hospital-operations/internal/redis"
)

const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentCancelled = "appointment.cancelled"
	EventDoctorStatusChanged  = "doctor.status_changed"

	aggregateAppointment = "appointment"
	tableAppointments    = "appointments"
	maxReasonLen         = 500

	lockRetryDelay  = 25 * time.Millisecond
	defaultLockWait = 400 * time.Millisecond
)

var (
	ErrSlotTaken      = apperr.Conflict("SLOT_TAKEN", "this doctor already has an appointment in that slot")
	ErrDoctorInactive = apperr.Conflict("DOCTOR_INACTIVE", "doctor is not accepting appointments")
	ErrInvalidState   = apperr.Conflict("INVALID_STATE", "appointment is not in a state that allows this action")
	ErrPastDate       = apperr.Validation("PAST_DATE", "appointment date is in the past")
	ErrInvalidStatus  = apperr.Validation("INVALID_STATUS", "unknown status")
	ErrReasonTooLong  = apperr.Validation("REASON_TOO_LONG", "reason is too long")
)

type Service struct {
	repo   Repository
	tx     db.TxRunner
	auth   access.Authorizer
	sink   audit.Recorder
	locker redisclient.Locker
	logger *zap.Logger
	now    func() time.Time
	// lockWait bounds how long a booking waits for a held slot lock before
	// going to the database anyway.
	lockWait time.Duration
}

func NewService(repo Repository, tx db.TxRunner, auth access.Authorizer, sink audit.Recorder, locker redisclient.Locker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		auth:     auth,
		sink:     sink,
		locker:   locker,
		logger:   logger,
		now:      time.Now,
		lockWait: defaultLockWait,
	}
}

// BookAppointment reserves a (doctor, date, timeslot) for a patient.
// A Redis lock keeps concurrent requests for the same slot off the database;
// the partial unique index on live appointments decides who actually wins.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest, actor int64) (*Appointment, error) {
	if err := s.auth.Require(ctx, actor, access.CapBook); err != nil {
		return nil, err
	}
	if req.PatientID <= 0 || req.DoctorID <= 0 || req.TimeSlotID <= 0 || req.Date.IsZero() {
		return nil, apperr.ErrInvalidInput
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Reason) > maxReasonLen {
		return nil, ErrReasonTooLong
	}
	req.Date = db.DateOnly(req.Date)
	if req.Date.Before(db.DateOnly(s.now())) {
		return nil, ErrPastDate
	}

	var created *Appointment

	book := func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			// Validate patient exists
			ok, err := s.repo.PatientExists(ctx, req.PatientID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrPatientNotFound
			}

			// Validate doctor is bookable, holding it against concurrent deactivation
			doctor, err := s.repo.GetDoctorForShare(ctx, req.DoctorID)
			if err != nil {
				return err
			}
			if doctor.Status != DoctorActive {
				return ErrDoctorInactive
			}

			if _, err := s.repo.GetTimeSlot(ctx, req.TimeSlotID); err != nil {
				return err
			}

			appt, err := s.repo.CreateAppointment(ctx, req, actor)
			if err != nil {
				return err
			}
			created = appt

			if err := s.sink.Record(ctx, audit.Change{
				Actor: actor, Action: audit.ActionInsert, Table: tableAppointments, RecordID: appt.ID,
				Field: "status", New: appt.Status,
			}); err != nil {
				return err
			}
			if doctor.UserID != nil {
				msg := fmt.Sprintf("New appointment #%d booked for %s", appt.ID, appt.Date.Format(time.DateOnly))
				if err := s.sink.Notify(ctx, *doctor.UserID, msg); err != nil {
					return err
				}
			}
			return s.sink.Emit(ctx, audit.Event{
				Aggregate: aggregateAppointment, AggregateID: appt.ID, Type: EventAppointmentBooked,
				Payload: map[string]any{
					"patient_id":  appt.PatientID,
					"doctor_id":   appt.DoctorID,
					"date":        appt.Date.Format(time.DateOnly),
					"timeslot_id": appt.TimeSlotID,
				},
			})
		})
	}

	key := redisclient.SlotKey(req.DoctorID, req.Date, req.TimeSlotID)
	err := s.locker.WithLock(ctx, key, book)
	for waited, delay := time.Duration(0), lockRetryDelay; errors.Is(err, redisclient.ErrLockNotAcquired) && waited < s.lockWait; delay *= 2 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		waited += delay
		err = s.locker.WithLock(ctx, key, book)
	}

	switch {
	case errors.Is(err, redisclient.ErrLockUnavailable):
		// the unique index still guards the slot
		s.logger.Warn("booking without slot lock", zap.String("key", key), zap.Error(err))
		err = book(ctx)
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		// the holder is slow; the unique index decides between us
		s.logger.Info("slot lock still held, booking through", zap.String("key", key))
		err = book(ctx)
	}
	if err != nil {
		return nil, err
	}

	return created, nil
}

// ConfirmAppointment is the check-in: CREATED -> CONFIRMED.
func (s *Service) ConfirmAppointment(ctx context.Context, id, actor int64) (*Appointment, error) {
	if err := s.auth.Require(ctx, actor, access.CapBook); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, actor, StatusConfirmed, EventAppointmentConfirmed, "confirmed")
}

// CancelAppointment frees the slot. Allowed from CREATED or CONFIRMED only.
func (s *Service) CancelAppointment(ctx context.Context, id, actor int64) (*Appointment, error) {
	if err := s.auth.Require(ctx, actor, access.CapBook); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, actor, StatusCancelled, EventAppointmentCancelled, "cancelled")
}

func (s *Service) transition(ctx context.Context, id, actor int64, to Status, event, verb string) (*Appointment, error) {
	var updated *Appointment

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(appt.Status, to) {
			return ErrInvalidState.WithMessage(fmt.Sprintf("appointment is %s and cannot be %s", appt.Status, verb))
		}

		updated, err = s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to)
		if err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}

		if err := s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionUpdate, Table: tableAppointments, RecordID: id,
			Field: "status", Old: appt.Status, New: to,
		}); err != nil {
			return err
		}

		doctor, err := s.repo.GetDoctor(ctx, appt.DoctorID)
		if err != nil {
			return err
		}
		if doctor.UserID != nil {
			msg := fmt.Sprintf("Appointment #%d on %s was %s", id, appt.Date.Format(time.DateOnly), verb)
			if err := s.sink.Notify(ctx, *doctor.UserID, msg); err != nil {
				return err
			}
		}

		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateAppointment, AggregateID: id, Type: event,
			Payload: map[string]any{"from": appt.Status, "to": to, "by": actor},
		})
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// SetDoctorStatus toggles whether a doctor accepts new bookings. Existing
// appointments are left alone.
func (s *Service) SetDoctorStatus(ctx context.Context, doctorID int64, status DoctorStatus, actor int64) error {
	if err := s.auth.Require(ctx, actor, access.CapManageDoctors); err != nil {
		return err
	}
	if status != DoctorActive && status != DoctorInactive {
		return ErrInvalidStatus
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		doctor, err := s.repo.GetDoctorForUpdate(ctx, doctorID)
		if err != nil {
			return err
		}
		if doctor.Status == status {
			return nil
		}
		if err := s.repo.UpdateDoctorStatus(ctx, doctorID, status); err != nil {
			return err
		}
		if err := s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionUpdate, Table: "doctors", RecordID: doctorID,
			Field: "status", Old: doctor.Status, New: status,
		}); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: "doctor", AggregateID: doctorID, Type: EventDoctorStatusChanged,
			Payload: map[string]any{"from": doctor.Status, "to": status},
		})
	})
}

// Read side

func (s *Service) ListTimeSlots(ctx context.Context, actor int64) ([]TimeSlot, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewSchedule); err != nil {
		return nil, err
	}
	return s.repo.ListTimeSlots(ctx)
}

func (s *Service) ListDoctors(ctx context.Context, departmentID *int64, actor int64) ([]Doctor, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewSchedule); err != nil {
		return nil, err
	}
	return s.repo.ListDoctors(ctx, departmentID)
}

func (s *Service) GetAppointment(ctx context.Context, id, actor int64) (*AppointmentDetail, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewSchedule); err != nil {
		return nil, err
	}
	return s.repo.GetAppointmentDetail(ctx, id)
}

// DoctorSchedule lists one doctor's appointments on date, cancelled ones included.
func (s *Service) DoctorSchedule(ctx context.Context, doctorID int64, date time.Time, actor int64) ([]AppointmentDetail, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewSchedule); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	d := db.DateOnly(date)
	return s.repo.ListAppointmentDetails(ctx, ScheduleFilter{DoctorID: &doctorID, From: &d, To: &d})
}

// DailyQueue lists every appointment on date, optionally in one status.
func (s *Service) DailyQueue(ctx context.Context, date time.Time, status *Status, actor int64) ([]AppointmentDetail, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewSchedule); err != nil {
		return nil, err
	}
	d := db.DateOnly(date)
	return s.repo.ListAppointmentDetails(ctx, ScheduleFilter{From: &d, To: &d, Status: status})
}

// Search is the general schedule query by doctor, patient, date range and status.
func (s *Service) Search(ctx context.Context, f ScheduleFilter, actor int64) ([]AppointmentDetail, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewSchedule); err != nil {
		return nil, err
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, apperr.ErrInvalidInput.WithMessage("to must not be before from")
	}
	return s.repo.ListAppointmentDetails(ctx, f)
}

// AvailableSlots returns the time slots still free for doctorID on date.
func (s *Service) AvailableSlots(ctx context.Context, doctorID int64, date time.Time, actor int64) ([]TimeSlot, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewSchedule); err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	d := db.DateOnly(date)
	if doctor.Status != DoctorActive || d.Before(db.DateOnly(s.now())) {
		return []TimeSlot{}, nil
	}

	slots, err := s.repo.ListTimeSlots(ctx)
	if err != nil {
		return nil, err
	}
	booked, err := s.repo.BookedSlotIDs(ctx, doctorID, d)
	if err != nil {
		return nil, err
	}
	return FreeSlots(slots, booked), nil
}

// FreeSlots drops every slot whose id appears in booked, keeping order.
func FreeSlots(slots []TimeSlot, booked []int64) []TimeSlot {
	taken := make(map[int64]struct{}, len(booked))
	for _, id := range booked {
		taken[id] = struct{}{}
	}
	out := make([]TimeSlot, 0, len(slots))
	for _, s := range slots {
		if _, ok := taken[s.ID]; !ok {
			out = append(out, s)
		}
	}
	return out
}
