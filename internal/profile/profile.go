// Package profile maintains the cached caller-visible profile projection.
// The projection is rebuilt from the identity and user stores after every
// mutation; refresh failures never fail the mutation that triggered them.
package profile

import (
	"context"
	"time"

	"carelink/internal/identity/models"
	id "carelink/pkg/domain"
)

// Projection is the caller-visible profile served to clients without hitting
// the relational store.
type Projection struct {
	UserID       id.UserID    `json:"user_id"`
	PatientID    id.PatientID `json:"patient_id"`
	TenantID     id.TenantID  `json:"tenant_id"`
	DisplayName  string       `json:"display_name"`
	PhoneNumber  string       `json:"phone_number,omitempty"`
	Relationship string       `json:"relationship"`
	Locale       string       `json:"locale"`
	Primary      bool         `json:"primary"`
	IsPatient    bool         `json:"is_patient"`
	RefreshedAt  time.Time    `json:"refreshed_at"`
}

// IdentityReader is the slice of the identity store the refresher needs.
type IdentityReader interface {
	FindByUser(ctx context.Context, userID id.UserID) (models.FamilyIdentity, error)
}

// UserReader is the slice of the user store the refresher needs.
type UserReader interface {
	FindByID(ctx context.Context, userID id.UserID) (models.User, error)
}

// Cache stores projections.
type Cache interface {
	Set(ctx context.Context, p Projection) error
	Get(ctx context.Context, userID id.UserID) (Projection, error)
	Delete(ctx context.Context, userID id.UserID) error
}

// Refresher rebuilds cached projections from the stores of record.
type Refresher struct {
	identities IdentityReader
	users      UserReader
	cache      Cache
	now        func() time.Time
}

// NewRefresher constructs a projection refresher.
func NewRefresher(identities IdentityReader, users UserReader, cache Cache) *Refresher {
	return &Refresher{identities: identities, users: users, cache: cache, now: time.Now}
}

// Refresh rebuilds and stores the projection for one user.
func (r *Refresher) Refresh(ctx context.Context, userID id.UserID) error {
	ident, err := r.identities.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	u, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return r.cache.Set(ctx, Projection{
		UserID:       ident.UserID,
		PatientID:    ident.PatientID,
		TenantID:     ident.TenantID,
		DisplayName:  u.DisplayName(),
		PhoneNumber:  ident.PhoneNumber,
		Relationship: ident.PatientRelationship,
		Locale:       ident.PreferredLocale,
		Primary:      ident.Primary,
		IsPatient:    ident.IsPatient,
		RefreshedAt:  r.now(),
	})
}

// Delete drops the cached projection for one user.
func (r *Refresher) Delete(ctx context.Context, userID id.UserID) error {
	return r.cache.Delete(ctx, userID)
}
