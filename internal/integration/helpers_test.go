//go:build integration

package integration

import (
	"github.com/hackgods/hospital-operations/internal/appointment"
	"github.com/hackgods/hospital-operations/internal/visit"
)

func bookingFor(f *fixture, slot int64) appointment.BookingRequest {
	return appointment.BookingRequest{
		PatientID:  f.patientID,
		DoctorID:   f.doctorID,
		TimeSlotID: slot,
		Date:       nextWeek(),
		Reason:     "follow-up",
	}
}

func prescriptionItem(prescriptionID, itemID int64, qty int) visit.PrescriptionItemInput {
	return visit.PrescriptionItemInput{PrescriptionID: prescriptionID, ItemID: itemID, Quantity: qty, Dosage: "1x3"}
}
