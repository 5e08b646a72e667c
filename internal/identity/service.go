package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/config"
	"github.com/hackgods/hospital-operations/internal/db"
)

const (
	EventUserCreated     = "user.created"
	EventUserLocked      = "user.locked"
	EventUserReactivated = "user.reactivated"
	EventRoleAssigned    = "user.role_assigned"

	aggregateUser = "user"
	tableUsers    = "users"
	redacted      = "[redacted]"
)

type Service struct {
	repo   Repository
	tx     db.TxRunner
	sink   audit.Recorder
	policy config.LoginPolicy
	hasher hasher
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, sink audit.Recorder, policy config.LoginPolicy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxFailures < 1 {
		policy.MaxFailures = 5
	}
	return &Service{
		repo:   repo,
		tx:     tx,
		sink:   sink,
		policy: policy,
		hasher: hasher{cost: bcrypt.DefaultCost},
		logger: logger,
		now:    time.Now,
	}
}

// VerifyLogin checks credentials and maintains the consecutive failure
// counter. The counter update commits even when the login is rejected.
func (s *Service) VerifyLogin(ctx context.Context, username, password, sourceAddr string) (*LoginResult, error) {
	var (
		result   *LoginResult
		loginErr error
	)

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.GetUserByUsernameForUpdate(ctx, username)
		if errors.Is(err, ErrUserNotFound) {
			loginErr = ErrInvalidCredentials
			return nil
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}

		if u.Status == StatusLocked {
			loginErr = ErrAccountLocked
			return nil
		}

		if !s.hasher.matches(u.PasswordHash, password) {
			loginErr, err = s.recordFailure(ctx, u, sourceAddr)
			return err
		}

		if err := s.repo.RecordLogin(ctx, u.ID, s.now(), sourceAddr); err != nil {
			return err
		}
		result = &LoginResult{
			UserID:             u.ID,
			Role:               u.PrimaryRole(),
			MustChangePassword: u.MustChangePassword,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if loginErr != nil {
		return nil, loginErr
	}
	return result, nil
}

func (s *Service) recordFailure(ctx context.Context, u *User, sourceAddr string) (loginErr, err error) {
	failures, err := s.repo.IncrementFailedAttempts(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if failures < s.policy.MaxFailures {
		return ErrInvalidCredentials, nil
	}

	if _, err := s.repo.UpdateStatus(ctx, u.ID, StatusActive, StatusLocked); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if err := s.sink.Record(ctx, audit.Change{
		Action: audit.ActionUpdate, Table: tableUsers, RecordID: u.ID,
		Field: "account_status", Old: StatusActive, New: StatusLocked,
	}); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Account %q locked after %d failed login attempts from %s", u.Username, failures, orUnknown(sourceAddr))
	if err := s.sink.NotifyRole(ctx, access.RoleAdmin, msg); err != nil {
		return nil, err
	}
	if err := s.sink.Emit(ctx, audit.Event{
		Aggregate: aggregateUser, AggregateID: u.ID, Type: EventUserLocked,
		Payload: map[string]any{"failures": failures, "source": sourceAddr},
	}); err != nil {
		return nil, err
	}

	s.logger.Warn("account locked",
		zap.Int64("user_id", u.ID),
		zap.Int("failures", failures),
		zap.String("source", sourceAddr))
	return ErrAccountLocked, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown address"
	}
	return s
}

// CreateUser adds an account that must change its password on first login.
func (s *Service) CreateUser(ctx context.Context, username, password string, role access.Role, actor int64) (*User, error) {
	if err := s.Require(ctx, actor, access.CapManageUsers); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if err := CheckUsername(username); err != nil {
		return nil, err
	}
	if _, ok := access.ParseRole(string(role)); !ok {
		return nil, ErrInvalidRole
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *User
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.CreateUser(ctx, NewUser{Username: username, PasswordHash: hash, Roles: []access.Role{role}})
		if err != nil {
			return err
		}
		created = u

		if err := s.sink.Record(ctx,
			audit.Change{Actor: actor, Action: audit.ActionInsert, Table: tableUsers, RecordID: u.ID, Field: "username", New: u.Username},
			audit.Change{Actor: actor, Action: audit.ActionInsert, Table: tableUsers, RecordID: u.ID, Field: "roles", New: role},
		); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateUser, AggregateID: u.ID, Type: EventUserCreated,
			Payload: map[string]any{"username": u.Username, "role": role},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeactivateUser sets the account LOCKED. Accounts are never deleted.
func (s *Service) DeactivateUser(ctx context.Context, userID, actor int64) error {
	if err := s.Require(ctx, actor, access.CapManageUsers); err != nil {
		return err
	}
	if userID == actor {
		return ErrSelfDeactivation
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if u.Status == StatusLocked {
			return ErrAlreadyInactive
		}
		if _, err := s.repo.UpdateStatus(ctx, userID, StatusActive, StatusLocked); err != nil {
			return fmt.Errorf("deactivate user: %w", err)
		}
		if err := s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionUpdate, Table: tableUsers, RecordID: userID,
			Field: "account_status", Old: StatusActive, New: StatusLocked,
		}); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateUser, AggregateID: userID, Type: EventUserLocked,
			Payload: map[string]any{"by": actor},
		})
	})
}

// ReactivateUser is the only way back from LOCKED. It clears the failure counter.
func (s *Service) ReactivateUser(ctx context.Context, userID, actor int64) error {
	if err := s.Require(ctx, actor, access.CapManageUsers); err != nil {
		return err
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if u.Status == StatusActive {
			return ErrAlreadyActive
		}
		if _, err := s.repo.UpdateStatus(ctx, userID, StatusLocked, StatusActive); err != nil {
			return fmt.Errorf("reactivate user: %w", err)
		}
		if err := s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionUpdate, Table: tableUsers, RecordID: userID,
			Field: "account_status", Old: StatusLocked, New: StatusActive,
		}); err != nil {
			return err
		}
		if err := s.sink.Notify(ctx, userID, "Your account has been reactivated"); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateUser, AggregateID: userID, Type: EventUserReactivated,
			Payload: map[string]any{"by": actor},
		})
	})
}

// ChangePassword is performed by the account holder and clears the
// must-change flag.
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}
	if oldPassword == newPassword {
		return ErrPasswordReused
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if u.Status == StatusLocked {
			return ErrAccountLocked
		}
		if !s.hasher.matches(u.PasswordHash, oldPassword) {
			return ErrInvalidCredentials
		}

		hash, err := s.hasher.hash(newPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		if err := s.repo.UpdatePassword(ctx, userID, hash, false); err != nil {
			return err
		}
		return s.sink.Record(ctx, audit.Change{
			Actor: userID, Action: audit.ActionUpdate, Table: tableUsers, RecordID: userID,
			Field: "password_hash", Old: redacted, New: redacted,
		})
	})
}

func (s *Service) AssignRole(ctx context.Context, userID int64, role access.Role, actor int64) error {
	if err := s.Require(ctx, actor, access.CapManageUsers); err != nil {
		return err
	}
	if _, ok := access.ParseRole(string(role)); !ok {
		return ErrInvalidRole
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if slices.Contains(u.Roles, role) {
			return ErrRoleAlreadyAssigned
		}

		roles := append(slices.Clone(u.Roles), role)
		if err := s.repo.UpdateRoles(ctx, userID, roles); err != nil {
			return err
		}
		if err := s.sink.Record(ctx, audit.Change{
			Actor: actor, Action: audit.ActionUpdate, Table: tableUsers, RecordID: userID,
			Field: "roles", Old: joinRoles(u.Roles), New: joinRoles(roles),
		}); err != nil {
			return err
		}
		return s.sink.Emit(ctx, audit.Event{
			Aggregate: aggregateUser, AggregateID: userID, Type: EventRoleAssigned,
			Payload: map[string]any{"role": role, "by": actor},
		})
	})
}

func joinRoles(roles []access.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// ListUsers is the role directory; a nil role lists everyone.
func (s *Service) ListUsers(ctx context.Context, role *access.Role, actor int64) ([]User, error) {
	if err := s.Require(ctx, actor, access.CapViewUsers); err != nil {
		return nil, err
	}
	if role != nil {
		if _, ok := access.ParseRole(string(*role)); !ok {
			return nil, ErrInvalidRole
		}
	}
	return s.repo.ListUsers(ctx, role)
}

func (s *Service) GetUser(ctx context.Context, userID, actor int64) (*User, error) {
	if actor != userID {
		if err := s.Require(ctx, actor, access.CapViewUsers); err != nil {
			return nil, err
		}
	}
	return s.repo.GetUserByID(ctx, userID)
}

// Require implements access.Authorizer. Unknown and locked actors are refused.
func (s *Service) Require(ctx context.Context, actorID int64, c access.Capability) error {
	u, err := s.repo.GetUserByID(ctx, actorID)
	if errors.Is(err, ErrUserNotFound) {
		return access.ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("load actor: %w", err)
	}
	if u.Status != StatusActive {
		return ErrActorLocked
	}
	if !access.Can(u.Roles, c) {
		return access.ErrForbidden
	}
	return nil
}

// Bootstrap creates the first administrator without an acting user. It is
// used by the operator CLI only.
func (s *Service) Bootstrap(ctx context.Context, username, password string, roles ...access.Role) (*User, error) {
	if err := CheckUsername(username); err != nil {
		return nil, err
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		roles = []access.Role{access.RoleAdmin}
	}
	for _, r := range roles {
		if _, ok := access.ParseRole(string(r)); !ok {
			return nil, ErrInvalidRole
		}
	}
	hash, err := s.hasher.hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *User
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.CreateUser(ctx, NewUser{Username: username, PasswordHash: hash, Roles: roles})
		if err != nil {
			return err
		}
		created = u
		return s.sink.Record(ctx, audit.Change{
			Action: audit.ActionInsert, Table: tableUsers, RecordID: u.ID, Field: "roles", New: joinRoles(roles),
		})
	})
	return created, err
}
