package identity

import (
	"context"
	"time"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/apperr"
)

var (
	ErrUserNotFound        = apperr.NotFound("USER_NOT_FOUND", "user not found")
	ErrDuplicateUsername   = apperr.Conflict("DUPLICATE_USERNAME", "username already exists")
	ErrInvalidCredentials  = apperr.Auth("INVALID_CREDENTIALS", "invalid username or password", 401)
	ErrAccountLocked       = apperr.Auth("ACCOUNT_LOCKED", "account is locked, contact an administrator", 423)
	ErrInvalidRole         = apperr.Validation("INVALID_ROLE", "unknown role")
	ErrInvalidUsername     = apperr.Validation("INVALID_USERNAME", "username must be 3-50 characters of letters, digits, dot, dash or underscore")
	ErrWeakPassword        = apperr.Validation("WEAK_PASSWORD", "password must be at least 8 characters and contain a letter and a digit")
	ErrPasswordReused      = apperr.Validation("PASSWORD_REUSED", "new password must differ from the current one")
	ErrAlreadyInactive     = apperr.Conflict("ALREADY_INACTIVE", "user is already inactive")
	ErrAlreadyActive       = apperr.Conflict("ALREADY_ACTIVE", "user is already active")
	ErrRoleAlreadyAssigned = apperr.Conflict("ROLE_ALREADY_ASSIGNED", "user already has this role")
	ErrSelfDeactivation    = apperr.Forbidden("SELF_DEACTIVATION_FORBIDDEN", "you cannot deactivate your own account")
	ErrActorLocked         = apperr.Forbidden("ACTOR_LOCKED", "your account is locked")
)

type Repository interface {
	GetUserByID(ctx context.Context, id int64) (*User, error)
	// GetUserForUpdate locks the row for the rest of the transaction.
	GetUserForUpdate(ctx context.Context, id int64) (*User, error)
	GetUserByUsernameForUpdate(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context, role *access.Role) ([]User, error)

	CreateUser(ctx context.Context, u NewUser) (*User, error)
	// UpdateStatus is a compare-and-set on account_status.
	UpdateStatus(ctx context.Context, id int64, from, to AccountStatus) (*User, error)
	IncrementFailedAttempts(ctx context.Context, id int64) (int, error)
	RecordLogin(ctx context.Context, id int64, at time.Time, ip string) error
	UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) error
	UpdateRoles(ctx context.Context, id int64, roles []access.Role) error
}
