package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"fintrail/internal/audit/models"
	"fintrail/internal/audit/store/memory"
	"fintrail/internal/platform/kafka/consumer"
	"fintrail/pkg/streams"
)

type RollbackHandlerSuite struct {
	suite.Suite
	store   *memory.InMemoryStore
	handler *RollbackHandler
}

func TestRollbackHandlerSuite(t *testing.T) {
	suite.Run(t, new(RollbackHandlerSuite))
}

func (s *RollbackHandlerSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.handler = NewRollbackHandler(s.store, slog.Default(), consumerMetricsOnce())
}

func (s *RollbackHandlerSuite) seed(correlationID string, action models.Action) *models.AuditLog {
	log := &models.AuditLog{
		ID:            uuid.New(),
		Action:        action,
		EntityType:    "Transaction",
		EntityID:      uuid.NewString(),
		Status:        models.StatusSuccess,
		CorrelationID: correlationID,
		ServiceName:   "transaction-service",
		CreatedAt:     time.Now().UTC(),
	}
	s.Require().NoError(s.store.Insert(context.Background(), log))
	return log
}

func (s *RollbackHandlerSuite) message(correlationID, reason string) *consumer.Message {
	payload, err := json.Marshal(streams.AuditRollbackEnvelope{
		CorrelationID: correlationID,
		Reason:        reason,
	})
	s.Require().NoError(err)
	return &consumer.Message{
		Topic: streams.SubjectAuditRollback,
		Key:   []byte(correlationID),
		Value: payload,
	}
}

func (s *RollbackHandlerSuite) TestMarksAllRowsOfCorrelation() {
	correlationID := uuid.NewString()
	s.seed(correlationID, models.ActionCreate)
	s.seed(correlationID, models.ActionUpdate)
	untouched := s.seed(uuid.NewString(), models.ActionCreate)

	s.Require().NoError(s.handler.Handle(context.Background(), s.message(correlationID, "ack timeout")))

	logs, err := s.store.ListByCorrelation(context.Background(), correlationID)
	s.Require().NoError(err)
	s.Require().Len(logs, 2)
	for _, log := range logs {
		s.Equal(models.StatusRolledBack, log.Status)
	}

	other, err := s.store.FindByID(context.Background(), untouched.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSuccess, other.Status)
}

func (s *RollbackHandlerSuite) TestIdempotent() {
	correlationID := uuid.NewString()
	s.seed(correlationID, models.ActionCreate)

	msg := s.message(correlationID, "ack timeout")
	s.Require().NoError(s.handler.Handle(context.Background(), msg))

	before, err := s.store.ListByCorrelation(context.Background(), correlationID)
	s.Require().NoError(err)

	// Second delivery leaves the store byte-identical.
	s.Require().NoError(s.handler.Handle(context.Background(), msg))
	after, err := s.store.ListByCorrelation(context.Background(), correlationID)
	s.Require().NoError(err)
	s.Equal(before, after)
}

func (s *RollbackHandlerSuite) TestUnknownCorrelationIsNoOp() {
	s.Require().NoError(s.handler.Handle(context.Background(), s.message(uuid.NewString(), "nothing here")))
}

func (s *RollbackHandlerSuite) TestMalformedPayloadCommitted() {
	msg := &consumer.Message{Topic: streams.SubjectAuditRollback, Value: []byte("??")}
	s.Require().NoError(s.handler.Handle(context.Background(), msg))
}
