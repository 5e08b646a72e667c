package patient

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/db"
)

const EventPatientRegistered = "patient.registered"

type Service struct {
	repo Repository
	tx   db.TxRunner
	auth access.Authorizer
	sink audit.Recorder
	now  func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, auth access.Authorizer, sink audit.Recorder) *Service {
	return &Service{repo: repo, tx: tx, auth: auth, sink: sink, now: time.Now}
}

// Validate normalises r in place and reports the first problem found.
func (r *Registration) Validate(today time.Time) error {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Email = strings.TrimSpace(r.Email)
	r.Address = strings.TrimSpace(r.Address)
	r.Gender = Gender(strings.ToUpper(string(r.Gender)))

	if r.FullName == "" {
		return ErrMissingName
	}
	if r.Phone == "" {
		return ErrMissingPhone
	}
	digits := 0
	for _, c := range r.Phone {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '+' || c == ' ' || c == '-' || c == '(' || c == ')':
		default:
			return ErrInvalidPhone
		}
	}
	if digits < 7 || digits > 15 {
		return ErrInvalidPhone
	}
	if r.DateOfBirth.IsZero() || r.DateOfBirth.After(today) {
		return ErrFutureBirthDate
	}
	switch r.Gender {
	case GenderMale, GenderFemale, GenderOther:
	default:
		return ErrInvalidGender
	}
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return ErrInvalidEmail
		}
	}
	return nil
}

func (s *Service) Register(ctx context.Context, reg Registration, actor int64) (*Patient, error) {
	if err := s.auth.Require(ctx, actor, access.CapRegisterPatient); err != nil {
		return nil, err
	}
	if err := reg.Validate(s.now()); err != nil {
		return nil, err
	}

	var created *Patient
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.Create(ctx, reg, actor)
		if err != nil {
			return err
		}
		created = p

		if err := s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionInsert, Table: "patients", RecordID: p.ID,
			Field: "full_name", New: p.FullName,
		}); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: "patient", AggregateID: p.ID, Type: EventPatientRegistered,
			Payload: map[string]any{"registered_by": actor},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id, actor int64) (*Patient, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewPatients); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, query string, limit int, actor int64) ([]Patient, error) {
	if err := s.auth.Require(ctx, actor, access.CapViewPatients); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.Search(ctx, strings.TrimSpace(query), limit)
}
