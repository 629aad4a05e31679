package models

import (
	"time"

	id "carelink/pkg/domain"
)

// RelationshipSelfPatient is the relationship literal that marks an identity
// as the patient themselves. It is compared exactly; anything else is an
// ordinary family relationship.
const RelationshipSelfPatient = "Self/Patient"

// LifecycleState tracks the soft-delete duality for family identities.
// Removed rows are kept so read receipts and audit trails retain stable
// attribution.
type LifecycleState string

const (
	StateActive  LifecycleState = "active"
	StateRemoved LifecycleState = "removed"
)

// FamilyIdentity binds one family member to one patient via a device key.
type FamilyIdentity struct {
	UserID              id.UserID
	PatientID           id.PatientID
	TenantID            id.TenantID
	PublicKey           []byte
	PhoneNumber         string
	PatientRelationship string
	PreferredLocale     string
	Primary             bool
	IsPatient           bool
	InvitedBy           id.UserID
	State               LifecycleState
	CreatedAt           time.Time
	EULAAcceptedAt      *time.Time
}

// Active reports whether the identity still participates in the roster.
func (f *FamilyIdentity) Active() bool {
	return f.State == StateActive
}

// IsSelfPatient reports whether the relationship claims to be the patient.
func IsSelfPatient(relationship string) bool {
	return relationship == RelationshipSelfPatient
}

// User is the backing account record for an identity. It is created pending
// during invitation and finalized together with the identity in one
// transaction.
type User struct {
	ID              id.UserID
	FirstName       string
	LastName        string
	PhoneNumber     string
	PreferredLocale string
	DateOfBirth     *time.Time
	Active          bool
	CreatedAt       time.Time
}

// DisplayName is the name shown in chat member listings.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}
