package identity

import (
	"time"

	"github.com/hackgods/hospital-operations/internal/access"
)

type AccountStatus string

const (
	StatusActive AccountStatus = "ACTIVE"
	StatusLocked AccountStatus = "LOCKED"
)

type User struct {
	ID                 int64
	Username           string
	PasswordHash       string
	Status             AccountStatus
	Roles              []access.Role
	MustChangePassword bool
	FailedAttempts     int
	LastLoginAt        *time.Time
	LastLoginIP        *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PrimaryRole is the first role granted.
func (u *User) PrimaryRole() access.Role {
	if len(u.Roles) == 0 {
		return ""
	}
	return u.Roles[0]
}

// LoginResult is returned by a successful VerifyLogin.
type LoginResult struct {
	UserID             int64       `json:"user_id"`
	Role               access.Role `json:"role"`
	MustChangePassword bool        `json:"must_change_password"`
}

type NewUser struct {
	Username     string
	PasswordHash string
	Roles        []access.Role
}
