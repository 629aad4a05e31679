package audit

import (
	"context"
	"time"
)

// Store persists audit events. The postgres implementation writes a
// transactional outbox; the worker publishes outbox rows to Kafka.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher is the append-only facade services emit through. It fills in the
// timestamp and category so call sites stay small.
type Publisher struct {
	store Store
}

// NewPublisher constructs a publisher over the given store.
func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// Emit records one event. Callers on a success path must call Emit; they may
// log-and-continue if it fails, but must not skip it.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = AuditEvent(event.Action).Category()
	}
	return p.store.Append(ctx, event)
}
