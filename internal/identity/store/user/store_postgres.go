// Package user stores the backing account records behind family identities
// and caregivers. It doubles as the profile directory for chat member and
// sender resolution.
package user

import (
	"context"
	"database/sql"
	"errors"

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

// NewPostgresStore creates a PostgreSQL user store.
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

const userColumns = `id, first_name, last_name, phone_number, preferred_locale, date_of_birth, active, created_at`

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var (
		u     models.User
		uid   uuid.UUID
		phone sql.NullString
		dob   sql.NullTime
	)
	err := row.Scan(&uid, &u.FirstName, &u.LastName, &phone, &u.PreferredLocale, &dob, &u.Active, &u.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	u.ID = id.UserID(uid)
	u.PhoneNumber = phone.String
	if dob.Valid {
		t := dob.Time
		u.DateOfBirth = &t
	}
	return u, nil
}

// FindByID loads one user record.
func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (models.User, error) {
	row := s.querier(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, uuid.UUID(userID))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, sentinel.ErrNotFound
	}
	return u, err
}

// FindByIDs batch-loads user records. Missing IDs are simply absent from the
// result; callers resolving chat pages tolerate gaps.
func (s *PostgresStore) FindByIDs(ctx context.Context, userIDs []id.UserID) (map[id.UserID]models.User, error) {
	out := make(map[id.UserID]models.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	raw := make([]string, len(userIDs))
	for i, uid := range userIDs {
		raw[i] = uid.String()
	}
	rows, err := s.querier(ctx).QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1::uuid[])`, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

// Save upserts the user record. Joins an ambient transaction when present so
// registration finalize commits user and identity together.
func (s *PostgresStore) Save(ctx context.Context, u models.User) error {
	var dob sql.NullTime
	if u.DateOfBirth != nil {
		dob = sql.NullTime{Time: *u.DateOfBirth, Valid: true}
	}
	_, err := s.querier(ctx).ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone_number = EXCLUDED.phone_number,
			preferred_locale = EXCLUDED.preferred_locale,
			date_of_birth = EXCLUDED.date_of_birth,
			active = EXCLUDED.active`,
		uuid.UUID(u.ID), u.FirstName, u.LastName, nullString(u.PhoneNumber),
		u.PreferredLocale, dob, u.Active, u.CreatedAt)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
