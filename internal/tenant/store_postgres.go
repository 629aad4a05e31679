package tenant

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

// NewPostgresStore creates a PostgreSQL tenant-settings store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByID loads a tenant's settings.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID) (Settings, error) {
	var (
		set       Settings
		tid       uuid.UUID
		rosterCap sql.NullInt64
		level     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, short_code, roster_cap, default_notification_level, chat_enabled
		 FROM tenants WHERE id = $1`,
		uuid.UUID(tenantID)).Scan(&tid, &set.ShortCode, &rosterCap, &level, &set.ChatEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Settings{}, err
	}
	set.ID = id.TenantID(tid)
	set.RosterCap = int(rosterCap.Int64)
	set.DefaultNotification = id.NotificationLevel(level.String)
	if set.DefaultNotification == "" {
		set.DefaultNotification = id.NotificationDefault
	}
	return set, nil
}
