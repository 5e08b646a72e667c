package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/identity"
)

// Envelope wraps every response: a numeric status, a stable code the caller
// can branch on, a short message and the operation's data on success.
type Envelope struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type AssignRoleRequest struct {
	Role string `json:"role"`
}

type RegisterPatientRequest struct {
	FullName    string `json:"full_name"`
	DateOfBirth string `json:"date_of_birth"` // YYYY-MM-DD
	Gender      string `json:"gender"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Address     string `json:"address"`
}

type BookAppointmentRequest struct {
	PatientID  int64  `json:"patient_id"`
	DoctorID   int64  `json:"doctor_id"`
	TimeSlotID int64  `json:"timeslot_id"`
	Date       string `json:"date"` // YYYY-MM-DD
	Reason     string `json:"reason"`
}

type DoctorStatusRequest struct {
	Status string `json:"status"`
}

type StartVisitRequest struct {
	AppointmentID int64  `json:"appointment_id"`
	DoctorID      int64  `json:"doctor_id"`
	Note          string `json:"note"`
}

type AddDiagnosisRequest struct {
	DiagnosisID int64  `json:"diagnosis_id"`
	Note        string `json:"note"`
}

type AddServiceRequest struct {
	ServiceID int64 `json:"service_id"`
	Quantity  int   `json:"quantity"`
}

type CreatePrescriptionRequest struct {
	DoctorID int64  `json:"doctor_id"`
	Note     string `json:"note"`
}

type PrescriptionItemRequest struct {
	ItemID       int64  `json:"item_id"`
	Quantity     int    `json:"quantity"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions"`
}

type DispenseRequest struct {
	Quantity int `json:"quantity"`
}

type ReceiveBatchRequest struct {
	ItemID      int64  `json:"item_id"`
	BatchNumber string `json:"batch_number"`
	Supplier    string `json:"supplier"`
	Quantity    int    `json:"quantity"`
	ExpiryDate  string `json:"expiry_date"` // YYYY-MM-DD
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

// UserResponse never carries the password hash.
type UserResponse struct {
	ID                 int64         `json:"id"`
	Username           string        `json:"username"`
	Status             string        `json:"status"`
	Roles              []access.Role `json:"roles"`
	MustChangePassword bool          `json:"must_change_password"`
	FailedAttempts     int           `json:"failed_attempts"`
	LastLoginAt        *time.Time    `json:"last_login_at,omitempty"`
	LastLoginIP        *string       `json:"last_login_ip,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

func toUserResponse(u *identity.User) UserResponse {
	return UserResponse{
		ID:                 u.ID,
		Username:           u.Username,
		Status:             string(u.Status),
		Roles:              u.Roles,
		MustChangePassword: u.MustChangePassword,
		FailedAttempts:     u.FailedAttempts,
		LastLoginAt:        u.LastLoginAt,
		LastLoginIP:        u.LastLoginIP,
		CreatedAt:          u.CreatedAt,
	}
}

type AuditEntryResponse struct {
	ID          int64     `json:"id"`
	ChangedAt   time.Time `json:"changed_at"`
	PerformerID *int64    `json:"performer_id"`
	Action      string    `json:"action"`
	Table       string    `json:"table"`
	RecordID    *int64    `json:"record_id"`
	Field       string    `json:"field"`
	OldValue    *string   `json:"old_value"`
	NewValue    *string   `json:"new_value"`
}

func toAuditEntries(in []audit.Entry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(in))
	for _, e := range in {
		out = append(out, AuditEntryResponse{
			ID:          e.ID,
			ChangedAt:   e.ChangedAt,
			PerformerID: e.PerformerID,
			Action:      string(e.Action),
			Table:       e.Table,
			RecordID:    e.RecordID,
			Field:       e.Field,
			OldValue:    e.OldValue,
			NewValue:    e.NewValue,
		})
	}
	return out
}

type NotificationResponse struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func toNotifications(in []audit.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(in))
	for _, n := range in {
		out = append(out, NotificationResponse{ID: n.ID, Content: n.Content, IsRead: n.IsRead, CreatedAt: n.CreatedAt})
	}
	return out
}
