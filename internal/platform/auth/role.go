package auth

import (
	"fmt"
	"strings"
)

// Role is a staff role. The set is closed; unknown names never parse.
type Role string

const (
	RoleAdmin         Role = "ADMIN"
	RoleDoctor        Role = "DOCTOR"
	RoleNurse         Role = "NURSE"
	RoleReceptionist  Role = "RECEPTIONIST"
	RoleLabTechnician Role = "LAB_TECHNICIAN"
	RolePharmacist    Role = "PHARMACIST"
	RoleBilling       Role = "BILLING"
)

// AllRoles lists every role in declaration order.
var AllRoles = []Role{
	RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist,
	RoleLabTechnician, RolePharmacist, RoleBilling,
}

// RoleNames returns AllRoles as strings, for enum field declarations.
func RoleNames() []string {
	out := make([]string, len(AllRoles))
	for i, r := range AllRoles {
		out[i] = string(r)
	}
	return out
}

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	for _, r := range AllRoles {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the canonical role names.
func (r Role) Valid() bool {
	return HasRole(AllRoles, r)
}

func (r Role) String() string { return string(r) }

// Clinicians are the roles allowed to act as a provider on clinical records.
var Clinicians = []Role{RoleDoctor, RoleNurse}

// HasRole reports whether r is in roles.
func HasRole(roles []Role, r Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}
