package patient

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// PostgresStore is the relational implementation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL patient store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByID loads the patient projection.
func (s *PostgresStore) FindByID(ctx context.Context, patientID id.PatientID) (Patient, error) {
	var (
		p         Patient
		pid       uuid.UUID
		tid       uuid.UUID
		channelID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT p.id, p.tenant_id, p.first_name, p.last_name, p.date_of_birth,
			p.channel_id, p.enable_chat, l.chat_enabled
		 FROM patients p
		 JOIN locations l ON l.id = p.location_id
		 WHERE p.id = $1`,
		uuid.UUID(patientID)).Scan(&pid, &tid, &p.FirstName, &p.LastName,
		&p.DateOfBirth, &channelID, &p.EnableChat, &p.LocationChatEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Patient{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Patient{}, err
	}
	p.ID = id.PatientID(pid)
	p.TenantID = id.TenantID(tid)
	p.ChannelID = id.ChannelID(channelID.String)
	return p, nil
}

// ClaimChannel binds channelID to the patient only if no channel exists yet.
// It returns the channel the patient ends up with: the caller's on a
// successful claim, or the concurrent winner's when the slot was already
// taken. This is the store half of the channel-creation race guard.
func (s *PostgresStore) ClaimChannel(ctx context.Context, patientID id.PatientID, channelID id.ChannelID) (id.ChannelID, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE patients SET channel_id = $1 WHERE id = $2 AND channel_id IS NULL`,
		string(channelID), uuid.UUID(patientID))
	if err != nil {
		return "", false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if affected == 1 {
		return channelID, true, nil
	}

	var existing sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT channel_id FROM patients WHERE id = $1`, uuid.UUID(patientID)).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, sentinel.ErrNotFound
	}
	if err != nil {
		return "", false, err
	}
	return id.ChannelID(existing.String), false, nil
}

// LinkedUserIDs returns every user mapped to the patient (caregivers and
// family members).
func (s *PostgresStore) LinkedUserIDs(ctx context.Context, patientID id.PatientID) ([]id.UserID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM user_patients WHERE patient_id = $1`, uuid.UUID(patientID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []id.UserID
	for rows.Next() {
		var uid uuid.UUID
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		users = append(users, id.UserID(uid))
	}
	return users, rows.Err()
}

// LinkedPatients returns every patient mapped to the user.
func (s *PostgresStore) LinkedPatients(ctx context.Context, userID id.UserID) ([]id.PatientID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id FROM user_patients WHERE user_id = $1`, uuid.UUID(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []id.PatientID
	for rows.Next() {
		var pid uuid.UUID
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		patients = append(patients, id.PatientID(pid))
	}
	return patients, rows.Err()
}

// HasOpenEncounter reports whether the patient has an open clinical
// encounter. Family mutations are only allowed while one exists.
func (s *PostgresStore) HasOpenEncounter(ctx context.Context, patientID id.PatientID) (bool, error) {
	var open bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM encounters WHERE patient_id = $1 AND status = 'open')`,
		uuid.UUID(patientID)).Scan(&open)
	return open, err
}
