package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCan(t *testing.T) {
	tests := []struct {
		name  string
		roles []Role
		cap   Capability
		want  bool
	}{
		{"receptionist books", []Role{RoleReceptionist}, CapBook, true},
		{"doctor cannot book", []Role{RoleDoctor}, CapBook, false},
		{"pharmacist dispenses", []Role{RolePharmacist}, CapDispense, true},
		{"finance cannot dispense", []Role{RoleFinance}, CapDispense, false},
		{"admin reads billing", []Role{RoleAdmin}, CapViewBilling, true},
		{"admin cannot pay", []Role{RoleAdmin}, CapRecordPayment, false},
		{"second role grants", []Role{RoleFinance, RoleDoctor}, CapClinical, true},
		{"no roles", nil, CapInbox, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Can(tt.roles, tt.cap))
		})
	}
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("PHARMACIST")
	assert.True(t, ok)
	assert.Equal(t, RolePharmacist, r)

	_, ok = ParseRole("janitor")
	assert.False(t, ok)
}
