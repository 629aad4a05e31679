package chat

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// PostgresLevelStore persists per-member notification levels locally. The
// external service owns the value once a channel exists; these rows are the
// fallback default before then and the local mirror afterwards.
type PostgresLevelStore struct {
	db *sql.DB
}

// NewPostgresLevelStore creates a PostgreSQL notification-level store.
func NewPostgresLevelStore(db *sql.DB) *PostgresLevelStore {
	return &PostgresLevelStore{db: db}
}

// Get returns the stored level, or sentinel.ErrNotFound if the member never
// set one.
func (s *PostgresLevelStore) Get(ctx context.Context, userID id.UserID, patientID id.PatientID) (id.NotificationLevel, error) {
	var level string
	err := s.db.QueryRowContext(ctx,
		`SELECT notification_level FROM family_chat_settings WHERE user_id = $1 AND patient_id = $2`,
		uuid.UUID(userID), uuid.UUID(patientID)).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id.NotificationLevel(level), nil
}

// Set upserts the stored level.
func (s *PostgresLevelStore) Set(ctx context.Context, userID id.UserID, patientID id.PatientID, level id.NotificationLevel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO family_chat_settings (user_id, patient_id, notification_level)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, patient_id) DO UPDATE SET notification_level = EXCLUDED.notification_level`,
		uuid.UUID(userID), uuid.UUID(patientID), string(level))
	return err
}
