package patient

import (
	"context"

	"github.com/hackgods/hospital-operations/internal/apperr"
)

var (
	ErrPatientNotFound = apperr.NotFound("PATIENT_NOT_FOUND", "patient not found")
	ErrMissingName     = apperr.Validation("MISSING_NAME", "full name is required")
	ErrMissingPhone    = apperr.Validation("MISSING_PHONE", "phone is required")
	ErrInvalidPhone    = apperr.Validation("INVALID_PHONE", "phone must contain 7-15 digits")
	ErrFutureBirthDate = apperr.Validation("FUTURE_BIRTH_DATE", "date of birth cannot be in the future")
	ErrInvalidGender   = apperr.Validation("INVALID_GENDER", "gender must be MALE, FEMALE or OTHER")
	ErrInvalidEmail    = apperr.Validation("INVALID_EMAIL", "email is not valid")
)

type Repository interface {
	Create(ctx context.Context, r Registration, createdBy int64) (*Patient, error)
	GetByID(ctx context.Context, id int64) (*Patient, error)
	// Search matches name or phone, case-insensitively.
	Search(ctx context.Context, query string, limit int) ([]Patient, error)
}
