// Package worker drains the audit outbox into Kafka. One worker instance
// polls the outbox table, produces each row to the category topic, and marks
// it published. Kafka is the source of truth for the audit trail; the outbox
// only bridges the local transaction boundary.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"carelink/pkg/platform/audit"
)

const (
	topicPrefix  = "carelink.audit."
	pollInterval = 2 * time.Second
	batchSize    = 100
)

// Producer is the slice of the Kafka client the worker needs. *kgo.Client
// satisfies it.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Worker publishes outbox rows to Kafka.
type Worker struct {
	db       *sql.DB
	producer Producer
	logger   *slog.Logger
}

// New constructs an outbox worker over an existing Kafka producer.
func New(db *sql.DB, producer Producer, logger *slog.Logger) *Worker {
	return &Worker{db: db, producer: producer, logger: logger.With("component", "audit-worker")}
}

// EnsureTopics creates the per-category audit topics if they do not exist.
func EnsureTopics(ctx context.Context, client *kgo.Client) error {
	adm := kadm.NewClient(client)
	topics := []string{
		topicPrefix + string(audit.CategoryCompliance),
		topicPrefix + string(audit.CategorySecurity),
		topicPrefix + string(audit.CategoryOperations),
	}
	resps, err := adm.CreateTopics(ctx, 3, 1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create audit topics: %w", err)
	}
	for _, resp := range resps.Sorted() {
		// TopicAlreadyExists is the steady state after first boot.
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// Run polls the outbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil {
				w.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

type outboxRow struct {
	id          string
	aggregateID string
	payload     []byte
}

// Drain publishes one batch of unpublished outbox rows, oldest first. A
// produce failure leaves the row unpublished so the next pass retries it.
func (w *Worker) Drain(ctx context.Context) error {
	rows, err := w.db.QueryContext(ctx,
		`SELECT id, aggregate_id, payload FROM outbox
		 WHERE published_at IS NULL
		 ORDER BY created_at
		 LIMIT $1`, batchSize)
	if err != nil {
		return fmt.Errorf("select outbox: %w", err)
	}
	var pending []outboxRow
	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.id, &r.aggregateID, &r.payload); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range pending {
		topic, err := topicFor(r.payload)
		if err != nil {
			w.logger.Error("unroutable outbox row", "outbox_id", r.id, "error", err)
			continue
		}
		record := &kgo.Record{
			Topic: topic,
			Key:   []byte(r.aggregateID),
			Value: r.payload,
		}
		if err := w.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
			return fmt.Errorf("produce audit event: %w", err)
		}
		if _, err := w.db.ExecContext(ctx,
			`UPDATE outbox SET published_at = $1 WHERE id = $2`, time.Now(), r.id); err != nil {
			return fmt.Errorf("mark outbox row published: %w", err)
		}
	}
	return nil
}

func topicFor(payload []byte) (string, error) {
	var envelope struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", err
	}
	if envelope.Category == "" {
		envelope.Category = string(audit.CategoryOperations)
	}
	return topicPrefix + envelope.Category, nil
}
