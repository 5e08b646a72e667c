package api

import (
	"errors"
	"net/http"

	"github.com/hackgods/hospital-operations/internal/appointment"
	"github.com/hackgods/hospital-operations/internal/patient"
)

func (h *handler) registerPatient(r *http.Request, actor int64) (int, any, error) {
	var req RegisterPatientRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	dob, err := parseDate("date_of_birth", req.DateOfBirth)
	if err != nil {
		return 0, nil, err
	}
	p, err := h.svc.Patients.Register(r.Context(), patient.Registration{
		FullName:    req.FullName,
		DateOfBirth: dob,
		Gender:      patient.Gender(req.Gender),
		Phone:       req.Phone,
		Email:       req.Email,
		Address:     req.Address,
	}, actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, p, nil
}

func (h *handler) searchPatients(r *http.Request, actor int64) (int, any, error) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Patients.Search(r.Context(), r.URL.Query().Get("q"), limit, actor)
	return http.StatusOK, out, err
}

func (h *handler) getPatient(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	p, err := h.svc.Patients.Get(r.Context(), id, actor)
	return http.StatusOK, p, err
}

func (h *handler) bookAppointment(r *http.Request, actor int64) (int, any, error) {
	var req BookAppointmentRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return 0, nil, err
	}
	appt, err := h.svc.Scheduling.BookAppointment(r.Context(), appointment.BookingRequest{
		PatientID:  req.PatientID,
		DoctorID:   req.DoctorID,
		TimeSlotID: req.TimeSlotID,
		Date:       date,
		Reason:     req.Reason,
	}, actor)
	if err != nil {
		if errors.Is(err, appointment.ErrSlotTaken) {
			h.metrics.BookingConflict()
		}
		return 0, nil, err
	}
	return http.StatusCreated, appt, nil
}

func (h *handler) confirmAppointment(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	appt, err := h.svc.Scheduling.ConfirmAppointment(r.Context(), id, actor)
	return http.StatusOK, appt, err
}

func (h *handler) cancelAppointment(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	appt, err := h.svc.Scheduling.CancelAppointment(r.Context(), id, actor)
	return http.StatusOK, appt, err
}

func (h *handler) getAppointment(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	appt, err := h.svc.Scheduling.GetAppointment(r.Context(), id, actor)
	return http.StatusOK, appt, err
}

func (h *handler) searchAppointments(r *http.Request, actor int64) (int, any, error) {
	var (
		f   appointment.ScheduleFilter
		err error
	)
	if f.DoctorID, err = queryID(r, "doctor_id"); err != nil {
		return 0, nil, err
	}
	if f.PatientID, err = queryID(r, "patient_id"); err != nil {
		return 0, nil, err
	}
	if f.From, err = queryDate(r, "from"); err != nil {
		return 0, nil, err
	}
	if f.To, err = queryDate(r, "to"); err != nil {
		return 0, nil, err
	}
	if f.Status, err = queryStatus(r); err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Scheduling.Search(r.Context(), f, actor)
	return http.StatusOK, out, err
}

func (h *handler) dailyQueue(r *http.Request, actor int64) (int, any, error) {
	date, err := requiredDate(r, "date")
	if err != nil {
		return 0, nil, err
	}
	status, err := queryStatus(r)
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Scheduling.DailyQueue(r.Context(), date, status, actor)
	return http.StatusOK, out, err
}

func (h *handler) listTimeSlots(r *http.Request, actor int64) (int, any, error) {
	out, err := h.svc.Scheduling.ListTimeSlots(r.Context(), actor)
	return http.StatusOK, out, err
}

func (h *handler) listDoctors(r *http.Request, actor int64) (int, any, error) {
	dept, err := queryID(r, "department_id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Scheduling.ListDoctors(r.Context(), dept, actor)
	return http.StatusOK, out, err
}

func (h *handler) setDoctorStatus(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req DoctorStatusRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, nil, h.svc.Scheduling.SetDoctorStatus(r.Context(), id, appointment.DoctorStatus(req.Status), actor)
}

func (h *handler) doctorSchedule(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	date, err := requiredDate(r, "date")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Scheduling.DoctorSchedule(r.Context(), id, date, actor)
	return http.StatusOK, out, err
}

func (h *handler) availableSlots(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	date, err := requiredDate(r, "date")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Scheduling.AvailableSlots(r.Context(), id, date, actor)
	return http.StatusOK, out, err
}

func queryStatus(r *http.Request) (*appointment.Status, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, nil
	}
	s, ok := appointment.ParseStatus(raw)
	if !ok {
		return nil, appointment.ErrInvalidStatus
	}
	return &s, nil
}
