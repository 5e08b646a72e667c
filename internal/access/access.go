// Package access holds the role and capability model. Every business operation
// asks an Authorizer once, before it touches the store.
package access

import (
	"context"
	"slices"

	"github.com/hackgods/hospital-operations/internal/apperr"
)

type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RoleDoctor       Role = "DOCTOR"
	RoleReceptionist Role = "RECEPTIONIST"
	RolePharmacist   Role = "PHARMACIST"
	RoleFinance      Role = "FINANCE"
)

var AllRoles = []Role{RoleAdmin, RoleDoctor, RoleReceptionist, RolePharmacist, RoleFinance}

func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, slices.Contains(AllRoles, r)
}

type Capability string

const (
	CapManageUsers     Capability = "users:manage"
	CapViewUsers       Capability = "users:view"
	CapViewAudit       Capability = "audit:view"
	CapInbox           Capability = "inbox:own"
	CapRegisterPatient Capability = "patients:register"
	CapViewPatients    Capability = "patients:view"
	CapBook            Capability = "appointments:book"
	CapManageDoctors   Capability = "doctors:manage"
	CapViewSchedule    Capability = "schedule:view"
	CapClinical        Capability = "visits:write"
	CapViewHistory     Capability = "visits:view"
	CapDispense        Capability = "stock:dispense"
	CapReceiveStock    Capability = "stock:receive"
	CapViewInventory   Capability = "stock:view"
	CapRecordPayment   Capability = "billing:pay"
	CapViewBilling     Capability = "billing:view"
)

var grants = map[Role][]Capability{
	RoleAdmin: {
		CapManageUsers, CapViewUsers, CapViewAudit, CapInbox, CapManageDoctors,
		CapViewPatients, CapViewSchedule, CapViewHistory, CapViewInventory, CapViewBilling,
	},
	RoleReceptionist: {
		CapInbox, CapRegisterPatient, CapViewPatients, CapBook, CapViewSchedule,
	},
	RoleDoctor: {
		CapInbox, CapViewPatients, CapViewSchedule, CapClinical, CapViewHistory,
	},
	RolePharmacist: {
		CapInbox, CapDispense, CapReceiveStock, CapViewInventory,
	},
	RoleFinance: {
		CapInbox, CapRecordPayment, CapViewBilling,
	},
}

// Can reports whether any of roles grants c.
func Can(roles []Role, c Capability) bool {
	for _, r := range roles {
		if slices.Contains(grants[r], c) {
			return true
		}
	}
	return false
}

// Authorizer is the single capability check consulted by every operation.
type Authorizer interface {
	Require(ctx context.Context, actorID int64, c Capability) error
}

var ErrForbidden = apperr.Forbidden("FORBIDDEN", "operation not permitted for this user")
