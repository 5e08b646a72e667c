package appointment

import (
	"slices"
	"time"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusCreated:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
// COMPLETED and CANCELLED are terminal.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	switch st {
	case StatusCreated, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

type DoctorStatus string

const (
	DoctorActive   DoctorStatus = "ACTIVE"
	DoctorInactive DoctorStatus = "INACTIVE"
)

type Doctor struct {
	ID           int64        `json:"id"`
	UserID       *int64       `json:"user_id,omitempty"`
	FullName     string       `json:"full_name"`
	DepartmentID int64        `json:"department_id"`
	Department   string       `json:"department"`
	Status       DoctorStatus `json:"status"`
}

type TimeSlot struct {
	ID    int64  `json:"id"`
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`
}

type Appointment struct {
	ID         int64     `json:"id"`
	PatientID  int64     `json:"patient_id"`
	DoctorID   int64     `json:"doctor_id"`
	Date       time.Time `json:"date"`
	TimeSlotID int64     `json:"timeslot_id"`
	Reason     string    `json:"reason"`
	Status     Status    `json:"status"`
	BookedBy   *int64    `json:"booked_by,omitempty"`
	BookedAt   time.Time `json:"booked_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AppointmentDetail struct {
	Appointment
	PatientName string `json:"patient_name"`
	DoctorName  string `json:"doctor_name"`
	Department  string `json:"department"`
	SlotStart   string `json:"slot_start"`
	SlotEnd     string `json:"slot_end"`
}

type BookingRequest struct {
	PatientID  int64
	DoctorID   int64
	TimeSlotID int64
	Date       time.Time
	Reason     string
}

// ScheduleFilter narrows schedule queries; nil fields match everything.
type ScheduleFilter struct {
	DoctorID  *int64
	PatientID *int64
	From      *time.Time // inclusive
	To        *time.Time // inclusive
	Status    *Status
}
