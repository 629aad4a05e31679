// Package domain defines the typed identifiers shared across the service.
//
// IDs are distinct named types over uuid.UUID so the compiler rejects a
// PatientID where a UserID is expected. Parse* constructors enforce the
// invariant that IDs are valid, non-empty, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "carelink/pkg/domain-errors"
)

type (
	// UserID identifies a user account (caregiver or family member).
	UserID uuid.UUID
	// PatientID identifies a hospital patient record.
	PatientID uuid.UUID
	// TenantID identifies the hospital tenant an identity belongs to.
	TenantID uuid.UUID
	// SessionID identifies an authenticated session.
	SessionID uuid.UUID
)

// ChannelID is the external chat-service conversation identifier. It is
// generated locally but owned by the chat service, so it stays a string.
type ChannelID string

// DeviceID is the opaque device identifier supplied by the mobile client.
type DeviceID string

// InviteToken is the opaque token embedded in an invitation link.
type InviteToken string

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "nil id")
	}
	return u, nil
}

// ParseUserID parses and validates a user ID string.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

// ParsePatientID parses and validates a patient ID string.
func ParsePatientID(s string) (PatientID, error) {
	u, err := parseUUID(s)
	return PatientID(u), err
}

// ParseTenantID parses and validates a tenant ID string.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s)
	return TenantID(u), err
}

// ParseSessionID parses and validates a session ID string.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	return SessionID(u), err
}

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id PatientID) String() string { return uuid.UUID(id).String() }
func (id TenantID) String() string  { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }

// MarshalText/UnmarshalText keep the canonical UUID string form on every
// wire (JSON payloads, redis documents) instead of raw byte arrays.
func (id UserID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id PatientID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id TenantID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id SessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = UserID(u)
	return err
}

func (id *PatientID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = PatientID(u)
	return err
}

func (id *TenantID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = TenantID(u)
	return err
}

func (id *SessionID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = SessionID(u)
	return err
}

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PatientID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewSessionID mints a fresh session identifier.
func NewSessionID() SessionID { return SessionID(uuid.New()) }
