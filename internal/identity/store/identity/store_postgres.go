// Package identity stores family-member identity rows. Removal is a
// lifecycle transition, not a row delete, so read receipts and audit trails
// keep stable attribution after a member leaves.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"carelink/internal/identity/models"
	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
	txcontext "carelink/pkg/platform/tx"
)

// PostgresStore is the relational implementation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL identity store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const identityColumns = `user_id, patient_id, tenant_id, public_key, phone_number,
	patient_relationship, preferred_locale, is_primary, is_patient, invited_by,
	state, created_at, eula_accepted_at`

func scanIdentity(row interface{ Scan(...any) error }) (models.FamilyIdentity, error) {
	var (
		ident     models.FamilyIdentity
		userID    uuid.UUID
		patientID uuid.UUID
		tenantID  uuid.UUID
		invitedBy uuid.NullUUID
		phone     sql.NullString
		eulaAt    sql.NullTime
		state     string
	)
	err := row.Scan(&userID, &patientID, &tenantID, &ident.PublicKey, &phone,
		&ident.PatientRelationship, &ident.PreferredLocale, &ident.Primary,
		&ident.IsPatient, &invitedBy, &state, &ident.CreatedAt, &eulaAt)
	if err != nil {
		return models.FamilyIdentity{}, err
	}
	ident.UserID = id.UserID(userID)
	ident.PatientID = id.PatientID(patientID)
	ident.TenantID = id.TenantID(tenantID)
	if invitedBy.Valid {
		ident.InvitedBy = id.UserID(invitedBy.UUID)
	}
	ident.PhoneNumber = phone.String
	ident.State = models.LifecycleState(state)
	if eulaAt.Valid {
		t := eulaAt.Time
		ident.EULAAcceptedAt = &t
	}
	return ident, nil
}

// FindByUser returns the identity row for a user regardless of lifecycle
// state.
func (s *PostgresStore) FindByUser(ctx context.Context, userID id.UserID) (models.FamilyIdentity, error) {
	row := s.querier(ctx).QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM family_identities WHERE user_id = $1`,
		uuid.UUID(userID))
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FamilyIdentity{}, sentinel.ErrNotFound
	}
	return ident, err
}

// ActiveRoster returns all active identities sharing a patient.
func (s *PostgresStore) ActiveRoster(ctx context.Context, patientID id.PatientID) ([]models.FamilyIdentity, error) {
	rows, err := s.querier(ctx).QueryContext(ctx,
		`SELECT `+identityColumns+` FROM family_identities
		 WHERE patient_id = $1 AND state = $2 ORDER BY created_at`,
		uuid.UUID(patientID), string(models.StateActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roster []models.FamilyIdentity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		roster = append(roster, ident)
	}
	return roster, rows.Err()
}

// CountActive returns the active roster size for a patient.
func (s *PostgresStore) CountActive(ctx context.Context, patientID id.PatientID) (int, error) {
	var n int
	err := s.querier(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM family_identities WHERE patient_id = $1 AND state = $2`,
		uuid.UUID(patientID), string(models.StateActive)).Scan(&n)
	return n, err
}

// HasActiveSelfPatient reports whether any active identity other than
// excludeUser already claims the Self/Patient relationship for the patient.
func (s *PostgresStore) HasActiveSelfPatient(ctx context.Context, patientID id.PatientID, excludeUser id.UserID) (bool, error) {
	var exists bool
	err := s.querier(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM family_identities
			WHERE patient_id = $1 AND state = $2 AND patient_relationship = $3 AND user_id <> $4
		)`,
		uuid.UUID(patientID), string(models.StateActive),
		models.RelationshipSelfPatient, uuid.UUID(excludeUser)).Scan(&exists)
	return exists, err
}

// Save upserts the identity row. Joins an ambient transaction when one is in
// the context.
func (s *PostgresStore) Save(ctx context.Context, ident models.FamilyIdentity) error {
	var invitedBy uuid.NullUUID
	if !ident.InvitedBy.IsNil() {
		invitedBy = uuid.NullUUID{UUID: uuid.UUID(ident.InvitedBy), Valid: true}
	}
	var eulaAt sql.NullTime
	if ident.EULAAcceptedAt != nil {
		eulaAt = sql.NullTime{Time: *ident.EULAAcceptedAt, Valid: true}
	}
	_, err := s.querier(ctx).ExecContext(ctx,
		`INSERT INTO family_identities (`+identityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (user_id) DO UPDATE SET
			public_key = EXCLUDED.public_key,
			phone_number = EXCLUDED.phone_number,
			patient_relationship = EXCLUDED.patient_relationship,
			preferred_locale = EXCLUDED.preferred_locale,
			is_primary = EXCLUDED.is_primary,
			is_patient = EXCLUDED.is_patient,
			state = EXCLUDED.state,
			eula_accepted_at = EXCLUDED.eula_accepted_at`,
		uuid.UUID(ident.UserID), uuid.UUID(ident.PatientID), uuid.UUID(ident.TenantID),
		ident.PublicKey, nullString(ident.PhoneNumber), ident.PatientRelationship,
		ident.PreferredLocale, ident.Primary, ident.IsPatient, invitedBy,
		string(ident.State), ident.CreatedAt, eulaAt)
	return err
}

// SoftRemove transitions an active identity to Removed. Returns
// sentinel.ErrNotFound when no active row matched.
func (s *PostgresStore) SoftRemove(ctx context.Context, userID id.UserID, at time.Time) error {
	res, err := s.querier(ctx).ExecContext(ctx,
		`UPDATE family_identities SET state = $1, removed_at = $2
		 WHERE user_id = $3 AND state = $4`,
		string(models.StateRemoved), at, uuid.UUID(userID), string(models.StateActive))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
