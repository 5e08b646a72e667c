package patient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/access/accesstest"
	"github.com/hackgods/hospital-operations/internal/audit/audittest"
	"github.com/hackgods/hospital-operations/internal/db/dbtest"
)

type memRepo struct {
	patients []Patient
}

func (m *memRepo) Create(_ context.Context, r Registration, _ int64) (*Patient, error) {
	p := Patient{
		ID: int64(len(m.patients) + 1), FullName: r.FullName, DateOfBirth: r.DateOfBirth,
		Gender: r.Gender, Phone: r.Phone,
	}
	m.patients = append(m.patients, p)
	return &p, nil
}

func (m *memRepo) GetByID(_ context.Context, id int64) (*Patient, error) {
	for _, p := range m.patients {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (m *memRepo) Search(_ context.Context, _ string, _ int) ([]Patient, error) {
	return m.patients, nil
}

var today = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func validRegistration() Registration {
	return Registration{
		FullName:    "  Ada Lovelace ",
		DateOfBirth: time.Date(1990, 12, 10, 0, 0, 0, 0, time.UTC),
		Gender:      "female",
		Phone:       "+44 20 7946 0958",
	}
}

func TestRegistrationValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Registration)
		want   error
	}{
		{"ok", func(r *Registration) {}, nil},
		{"missing name", func(r *Registration) { r.FullName = "  " }, ErrMissingName},
		{"missing phone", func(r *Registration) { r.Phone = "" }, ErrMissingPhone},
		{"letters in phone", func(r *Registration) { r.Phone = "call me" }, ErrInvalidPhone},
		{"short phone", func(r *Registration) { r.Phone = "12345" }, ErrInvalidPhone},
		{"future dob", func(r *Registration) { r.DateOfBirth = today.AddDate(0, 0, 1) }, ErrFutureBirthDate},
		{"unknown gender", func(r *Registration) { r.Gender = "x" }, ErrInvalidGender},
		{"bad email", func(r *Registration) { r.Email = "not-an-email" }, ErrInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRegistration()
			tt.mutate(&r)
			err := r.Validate(today)
			if tt.want == nil {
				assert.NoError(t, err)
				assert.Equal(t, "Ada Lovelace", r.FullName)
				assert.Equal(t, GenderFemale, r.Gender)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegister(t *testing.T) {
	auth := accesstest.NewAuthorizer()
	clerk := auth.Grant(1, access.RoleReceptionist)
	pharmacist := auth.Grant(2, access.RolePharmacist)
	sink := &audittest.Recorder{}
	svc := NewService(&memRepo{}, &dbtest.TxRunner{}, auth, sink)
	svc.now = func() time.Time { return today }
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegistration(), pharmacist)
	assert.ErrorIs(t, err, access.ErrForbidden)

	p, err := svc.Register(ctx, validRegistration(), clerk)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Len(t, sink.ChangesFor("patients"), 1)
	assert.Equal(t, []string{EventPatientRegistered}, sink.EventTypes())

	got, err := svc.Get(ctx, p.ID, clerk)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.FullName)

	_, err = svc.Get(ctx, 99, clerk)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}
