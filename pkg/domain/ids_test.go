package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "carelink/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseUserID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseUserID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseUserID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, UserID(validUUID), id)
	})
}

// TestParseID_TrustBoundary validates parsing rules against inputs that
// arrive straight off the wire.
func TestParseID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE users;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "550e8400​-e29b-41d4-a716-446655440000", true},

		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},

		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePatientID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestAllIDTypes_ConsistentBehavior ensures every ID type shares the same
// validation: an inconsistency here would leak bad IDs past one boundary but
// not another.
func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	validUUID := uuid.New().String()
	invalidInputs := []string{"", "invalid", uuid.Nil.String()}

	t.Run("all accept valid UUID", func(t *testing.T) {
		_, errUser := ParseUserID(validUUID)
		_, errPatient := ParsePatientID(validUUID)
		_, errTenant := ParseTenantID(validUUID)
		_, errSession := ParseSessionID(validUUID)

		require.NoError(t, errUser)
		require.NoError(t, errPatient)
		require.NoError(t, errTenant)
		require.NoError(t, errSession)
	})

	for _, input := range invalidInputs {
		t.Run("all reject: "+input, func(t *testing.T) {
			_, errUser := ParseUserID(input)
			_, errPatient := ParsePatientID(input)
			_, errTenant := ParseTenantID(input)
			_, errSession := ParseSessionID(input)

			require.Error(t, errUser)
			require.Error(t, errPatient)
			require.Error(t, errTenant)
			require.Error(t, errSession)
		})
	}
}

func TestNotificationLevel_Parse(t *testing.T) {
	for _, valid := range []string{"loud", "default", "muted"} {
		level, err := ParseNotificationLevel(valid)
		require.NoError(t, err)
		assert.Equal(t, NotificationLevel(valid), level)
	}

	for _, invalid := range []string{"", "LOUD", "silent", "quiet"} {
		_, err := ParseNotificationLevel(invalid)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	}
}

func TestRole_Parse(t *testing.T) {
	caregiver, err := ParseRole("caregiver")
	require.NoError(t, err)
	assert.Equal(t, RoleCaregiver, caregiver)
	assert.True(t, caregiver.Valid())

	family, err := ParseRole("family_member")
	require.NoError(t, err)
	assert.Equal(t, RoleFamilyMember, family)

	_, err = ParseRole("admin")
	require.Error(t, err)

	var zero Role
	assert.False(t, zero.Valid())
}
