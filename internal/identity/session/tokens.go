// Package session issues the caller-visible session tokens handed out after
// a successful login challenge, and tracks live session IDs per user so a
// removal can revoke everything a member holds.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
)

// Claims is the JWT claim set carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	TenantID  string `json:"tid"`
	PatientID string `json:"pid"`
}

// Issuer mints and parses HMAC-signed session tokens.
type Issuer struct {
	signingKey []byte
	ttl        time.Duration
}

// NewIssuer constructs a token issuer.
func NewIssuer(signingKey string, ttl time.Duration) *Issuer {
	return &Issuer{signingKey: []byte(signingKey), ttl: ttl}
}

// Issue mints a session token for a family member identity.
func (i *Issuer) Issue(userID id.UserID, sessionID id.SessionID, role id.Role, tenantID id.TenantID, patientID id.PatientID, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		SessionID: sessionID.String(),
		Role:      string(role),
		TenantID:  tenantID.String(),
		PatientID: patientID.String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign session token")
	}
	return signed, nil
}

// Parse validates a session token and returns its claims.
func (i *Issuer) Parse(raw string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return i.signingKey, nil
	})
	if err != nil {
		return Claims{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid session token")
	}
	return claims, nil
}

// TTL exposes the configured session lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }
