// Package postgres implements audit.Store using the transactional outbox
// pattern. Events are written to the outbox table in the caller's
// transaction when one is present, and published to Kafka by the outbox
// worker. Kafka is the source of truth for audit events.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carelink/pkg/platform/audit"
	txcontext "carelink/pkg/platform/tx"
)

// Store writes audit events to the outbox table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID          string            `json:"id"`
	Category    string            `json:"category"`
	Timestamp   string            `json:"timestamp"`
	Action      string            `json:"action"`
	PatientID   string            `json:"patient_id,omitempty"`
	TenantID    string            `json:"tenant_id,omitempty"`
	ActorID     string            `json:"actor_id,omitempty"`
	ActorRole   string            `json:"actor_role,omitempty"`
	SubjectID   string            `json:"subject_id,omitempty"`
	SubjectRole string            `json:"subject_role,omitempty"`
	DeviceID    string            `json:"device_id,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	payload := outboxPayload{
		ID:        eventID.String(),
		Category:  string(event.Category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Action:    event.Action,
		RequestID: event.RequestID,
		DeviceID:  string(event.DeviceID),
		Extra:     event.Extra,
	}
	if !event.PatientID.IsNil() {
		payload.PatientID = event.PatientID.String()
	}
	if !event.TenantID.IsNil() {
		payload.TenantID = event.TenantID.String()
	}
	if !event.Actor.UserID.IsNil() {
		payload.ActorID = event.Actor.UserID.String()
		payload.ActorRole = string(event.Actor.Role)
	}
	if !event.Subject.UserID.IsNil() {
		payload.SubjectID = event.Subject.UserID.String()
		payload.SubjectRole = string(event.Subject.Role)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	// Aggregate by patient so a patient's audit trail stays ordered within
	// one Kafka partition.
	aggregateType := "audit"
	aggregateID := eventID.String()
	if !event.PatientID.IsNil() {
		aggregateType = "patient"
		aggregateID = event.PatientID.String()
	}

	_, err = s.execer(ctx).ExecContext(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		eventID, aggregateType, aggregateID, event.Action, raw, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit outbox row: %w", err)
	}
	return nil
}
