package api

import (
	"net/http"

	"github.com/hackgods/hospital-operations/internal/visit"
)

func (h *handler) startVisit(r *http.Request, actor int64) (int, any, error) {
	var req StartVisitRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	v, err := h.svc.Visits.StartVisit(r.Context(), req.AppointmentID, req.DoctorID, req.Note, actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, v, nil
}

func (h *handler) getVisit(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	v, err := h.svc.Visits.GetVisit(r.Context(), id, actor)
	return http.StatusOK, v, err
}

func (h *handler) addDiagnosis(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req AddDiagnosisRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	d, err := h.svc.Visits.AddDiagnosis(r.Context(), id, req.DiagnosisID, req.Note, actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, d, nil
}

func (h *handler) addVisitService(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req AddServiceRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	s, err := h.svc.Visits.AddVisitService(r.Context(), id, req.ServiceID, req.Quantity, actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, s, nil
}

func (h *handler) createPrescription(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req CreatePrescriptionRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	p, err := h.svc.Visits.CreatePrescription(r.Context(), id, req.DoctorID, req.Note, actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, p, nil
}

func (h *handler) endVisit(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	inv, err := h.svc.Visits.EndVisit(r.Context(), id, actor)
	return http.StatusOK, inv, err
}

func (h *handler) getPrescription(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	p, err := h.svc.Visits.GetPrescription(r.Context(), id, actor)
	return http.StatusOK, p, err
}

func (h *handler) addPrescriptionItem(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req PrescriptionItemRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	item, err := h.svc.Visits.AddPrescriptionItem(r.Context(), visit.PrescriptionItemInput{
		PrescriptionID: id,
		ItemID:         req.ItemID,
		Quantity:       req.Quantity,
		Dosage:         req.Dosage,
		Instructions:   req.Instructions,
	}, actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, item, nil
}

func (h *handler) patientHistory(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Visits.PatientHistory(r.Context(), id, actor)
	return http.StatusOK, out, err
}

func (h *handler) diagnosisCatalog(r *http.Request, actor int64) (int, any, error) {
	out, err := h.svc.Visits.DiagnosisCatalog(r.Context(), actor)
	return http.StatusOK, out, err
}

func (h *handler) serviceCatalog(r *http.Request, actor int64) (int, any, error) {
	out, err := h.svc.Visits.ServiceCatalog(r.Context(), actor)
	return http.StatusOK, out, err
}
