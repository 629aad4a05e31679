package domain

import dErrors "carelink/pkg/domain-errors"

// Role is the closed set of caller roles this service distinguishes. Keeping
// it a parsed enum (rather than raw strings compared ad hoc) makes a new role
// a compile-time-visible gap: every switch over Role must handle the zero
// value explicitly.
type Role string

const (
	// RoleCaregiver is clinical staff acting on a patient they are assigned to.
	RoleCaregiver Role = "caregiver"
	// RoleFamilyMember is a family participant bound to a patient record.
	RoleFamilyMember Role = "family_member"
)

// ParseRole validates a role string against the closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCaregiver, RoleFamilyMember:
		return Role(s), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
}

// Valid reports whether the role is one of the known members.
func (r Role) Valid() bool {
	return r == RoleCaregiver || r == RoleFamilyMember
}
