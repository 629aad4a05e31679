package device

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

// NewPostgresStore creates a PostgreSQL device store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByUser returns the user's most recently registered device.
func (s *PostgresStore) FindByUser(ctx context.Context, userID id.UserID) (Device, error) {
	var (
		d   Device
		did string
		uid uuid.UUID
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, user_id, push_token, platform, app_version, registered_at
		 FROM devices WHERE user_id = $1
		 ORDER BY registered_at DESC LIMIT 1`,
		uuid.UUID(userID)).Scan(&did, &uid, &d.PushToken, &d.Platform, &d.AppVersion, &d.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Device{}, err
	}
	d.ID = id.DeviceID(did)
	d.UserID = id.UserID(uid)
	return d, nil
}
