//go:build integration

package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/audit"
	auditpg "carelink/pkg/platform/audit/store/postgres"
	"carelink/pkg/platform/audit/worker"
	"carelink/pkg/testutil/containers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturingProducer struct {
	records []*kgo.Record
	failOn  int
}

func (p *capturingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var results kgo.ProduceResults
	for _, r := range rs {
		if p.failOn > 0 && len(p.records)+1 == p.failOn {
			results = append(results, kgo.ProduceResult{Record: r, Err: errors.New("broker unavailable")})
			continue
		}
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r})
	}
	return results
}

type WorkerSuite struct {
	suite.Suite
	pg        *containers.PostgresContainer
	publisher *audit.Publisher
}

func TestWorkerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.publisher = audit.NewPublisher(auditpg.New(s.pg.DB))
}

func (s *WorkerSuite) SetupTest() {
	_, err := s.pg.DB.ExecContext(context.Background(), "DELETE FROM outbox")
	s.Require().NoError(err)
}

func (s *WorkerSuite) emit(action audit.AuditEvent, patientID id.PatientID) {
	s.Require().NoError(s.publisher.Emit(context.Background(), audit.Event{
		Action:    string(action),
		PatientID: patientID,
	}))
}

func (s *WorkerSuite) unpublishedCount() int {
	var n int
	err := s.pg.DB.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM outbox WHERE published_at IS NULL").Scan(&n)
	s.Require().NoError(err)
	return n
}

func (s *WorkerSuite) TestDrainRoutesByCategory() {
	ctx := context.Background()
	patientID := id.PatientID(uuid.New())
	s.emit(audit.EventFamilyEnrolled, patientID)
	s.emit(audit.EventAuthFailed, id.PatientID{})
	s.emit(audit.EventChannelCreated, patientID)

	producer := &capturingProducer{}
	w := worker.New(s.pg.DB, producer, discardLogger())

	s.Require().NoError(w.Drain(ctx))

	s.Require().Len(producer.records, 3)
	topics := make(map[string]int)
	for _, r := range producer.records {
		topics[r.Topic]++
	}
	s.Equal(1, topics["carelink.audit.compliance"])
	s.Equal(1, topics["carelink.audit.security"])
	s.Equal(1, topics["carelink.audit.operations"])
	s.Equal(0, s.unpublishedCount())
}

func (s *WorkerSuite) TestDrainKeysPatientEventsByPatient() {
	ctx := context.Background()
	patientID := id.PatientID(uuid.New())
	s.emit(audit.EventFamilyEnrolled, patientID)
	s.emit(audit.EventFamilyUnenrolled, patientID)

	producer := &capturingProducer{}
	w := worker.New(s.pg.DB, producer, discardLogger())

	s.Require().NoError(w.Drain(ctx))

	s.Require().Len(producer.records, 2)
	for _, r := range producer.records {
		s.Equal(patientID.String(), string(r.Key))
	}
}

func (s *WorkerSuite) TestProduceFailureLeavesRowForRetry() {
	ctx := context.Background()
	s.emit(audit.EventFamilyEnrolled, id.PatientID(uuid.New()))
	s.emit(audit.EventFamilyEnrolled, id.PatientID(uuid.New()))

	producer := &capturingProducer{failOn: 2}
	w := worker.New(s.pg.DB, producer, discardLogger())

	s.Require().Error(w.Drain(ctx))
	s.Equal(1, s.unpublishedCount())

	producer.failOn = 0
	s.Require().NoError(w.Drain(ctx))
	s.Equal(0, s.unpublishedCount())
}

func (s *WorkerSuite) TestDrainIsIdempotentWhenEmpty() {
	w := worker.New(s.pg.DB, &capturingProducer{}, discardLogger())
	s.Require().NoError(w.Drain(context.Background()))
}
