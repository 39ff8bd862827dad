//go:build integration

// End-to-end saga tests: a real coordinator, registry, and audit consumer
// wired over PostgreSQL and a Redpanda stream, exactly as the two servers
// wire them.
package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	auditconsumer "fintrail/internal/audit/consumer"
	auditmigrations "fintrail/internal/audit/migrations"
	auditmodels "fintrail/internal/audit/models"
	auditstore "fintrail/internal/audit/store/postgres"
	authmodels "fintrail/internal/auth/models"
	userstore "fintrail/internal/auth/store/user"
	"fintrail/internal/platform/kafka"
	"fintrail/internal/platform/kafka/consumer"
	"fintrail/internal/platform/metrics"
	"fintrail/internal/platform/postgres"
	txnmigrations "fintrail/internal/transaction/migrations"
	txnmodels "fintrail/internal/transaction/models"
	"fintrail/internal/transaction/saga"
	txnstore "fintrail/internal/transaction/store/transaction"
	"fintrail/pkg/domainerrors"
	"fintrail/pkg/streams"
	"fintrail/pkg/testutil/containers"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	sagaMetricsOnce     = sync.OnceValue(metrics.NewSagaMetrics)
	consumerMetricsOnce = sync.OnceValue(metrics.NewConsumerMetrics)
)

type SagaSuite struct {
	suite.Suite
	txnDB    *sql.DB
	auditDB  *sql.DB
	broker   *kafka.Client
	registry *saga.Registry
	coord    *saga.Coordinator
	store    *txnstore.PostgresStore
	audits   *auditstore.Store

	cancelConsumers context.CancelFunc
	regConsumer     *consumer.Consumer
	auditConsumer   *consumer.Consumer

	userID uuid.UUID
}

func TestSagaSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(SagaSuite))
}

func (s *SagaSuite) SetupSuite() {
	ctx := context.Background()
	log := slog.Default()
	mgr := containers.GetManager()

	pg := mgr.GetPostgres(s.T())
	s.txnDB = pg.DB
	s.Require().NoError(postgres.Migrate(s.txnDB, txnmigrations.FS, txnmigrations.Path))

	// The audit schema lives in its own database, as in production.
	_, err := pg.DB.ExecContext(ctx, `CREATE DATABASE fintrail_audit_test`)
	s.Require().NoError(err)
	auditURL := strings.Replace(pg.URL, "/fintrail_test", "/fintrail_audit_test", 1)
	s.auditDB, err = postgres.Open(ctx, auditURL)
	s.Require().NoError(err)
	s.Require().NoError(postgres.Migrate(s.auditDB, auditmigrations.FS, auditmigrations.Path))

	rp := mgr.GetRedpanda(s.T())
	s.broker, err = kafka.NewClient(rp.BrokerURL, log)
	s.Require().NoError(err)
	s.Require().NoError(s.broker.EnsureStream(ctx, streams.Subjects, streams.StreamRetention))

	s.store = txnstore.NewPostgres(s.txnDB)
	s.audits = auditstore.New(s.auditDB)
	s.registry = saga.NewRegistry(log, sagaMetricsOnce())

	router := auditconsumer.NewRouter(log)
	router.Register(streams.SubjectAuditCreate,
		auditconsumer.NewCreateHandler(s.audits, s.broker, log, consumerMetricsOnce()))
	router.Register(streams.SubjectAuditRollback,
		auditconsumer.NewRollbackHandler(s.audits, log, consumerMetricsOnce()))

	s.regConsumer, err = consumer.New(rp.BrokerURL, "registry-"+uuid.NewString()[:8],
		[]string{streams.SubjectAuditCreated, streams.SubjectAuditFailed}, s.registry, log)
	s.Require().NoError(err)
	s.auditConsumer, err = consumer.New(rp.BrokerURL, "audit-"+uuid.NewString()[:8],
		[]string{streams.SubjectAuditCreate, streams.SubjectAuditRollback}, router, log)
	s.Require().NoError(err)

	consumerCtx, cancel := context.WithCancel(context.Background())
	s.cancelConsumers = cancel
	go func() { _ = s.regConsumer.Run(consumerCtx) }()
	go func() { _ = s.auditConsumer.Run(consumerCtx) }()
	// Group membership has to be live before the first saga publishes.
	time.Sleep(5 * time.Second)

	s.coord = saga.NewCoordinator(s.txnDB, s.store, s.registry, s.broker,
		log, sagaMetricsOnce(), "transaction-service", 10*time.Second)
}

func (s *SagaSuite) TearDownSuite() {
	if s.cancelConsumers != nil {
		s.cancelConsumers()
	}
	if s.regConsumer != nil {
		s.regConsumer.Close()
	}
	if s.auditConsumer != nil {
		s.auditConsumer.Close()
	}
	if s.broker != nil {
		s.broker.Close()
	}
	if s.auditDB != nil {
		_ = s.auditDB.Close()
	}
}

func (s *SagaSuite) SetupTest() {
	ctx := context.Background()
	s.userID = uuid.New()
	now := time.Now().UTC()
	users := userstore.NewPostgres(s.txnDB)
	s.Require().NoError(users.Create(ctx, &authmodels.User{
		ID:           s.userID,
		Username:     "saga-" + s.userID.String()[:8],
		Email:        s.userID.String() + "@example.com",
		PasswordHash: "x",
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

// eventually polls for cond within the settle window.
func (s *SagaSuite) eventually(window time.Duration, cond func() bool, msg string) {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.Fail(msg)
}

func (s *SagaSuite) auditRows(entityID string) []*auditmodels.AuditLog {
	rows, err := s.audits.ListByEntity(context.Background(), "Transaction", entityID)
	s.Require().NoError(err)
	return rows
}

func (s *SagaSuite) TestCreateSagaHappyPath() {
	dto, err := s.coord.CreateTransaction(context.Background(), s.userID, txnmodels.CreateRequest{
		Amount:      decimal.RequireFromString("100.50"),
		Currency:    txnmodels.CurrencyUSD,
		Description: "Test",
	})
	s.Require().NoError(err)
	s.Equal(txnmodels.StatusPending, dto.Status)

	// Local row is durably visible.
	found, err := s.store.FindByIDForUser(context.Background(), dto.ID, s.userID)
	s.Require().NoError(err)
	s.True(found.Amount.Equal(decimal.RequireFromString("100.50")))

	// Exactly one CREATE/SUCCESS audit row within the settle window.
	s.eventually(2*time.Second, func() bool {
		rows := s.auditRows(dto.ID.String())
		return len(rows) == 1 &&
			rows[0].Action == auditmodels.ActionCreate &&
			rows[0].Status == auditmodels.StatusSuccess
	}, "expected one CREATE/SUCCESS audit row")

	rows := s.auditRows(dto.ID.String())
	s.Equal(s.userID.String(), rows[0].UserID)
	s.Require().NotNil(rows[0].Changes)
	s.Equal("100.5", fmt.Sprintf("%v", rows[0].Changes.After["amount"]))
}

func (s *SagaSuite) TestUpdateAndDeleteSagas() {
	ctx := context.Background()
	dto, err := s.coord.CreateTransaction(ctx, s.userID, txnmodels.CreateRequest{
		Amount:   decimal.RequireFromString("100.50"),
		Currency: txnmodels.CurrencyUSD,
	})
	s.Require().NoError(err)

	newAmount := decimal.RequireFromString("150.75")
	completed := txnmodels.StatusCompleted
	updated, err := s.coord.UpdateTransaction(ctx, dto.ID, s.userID, txnmodels.UpdateRequest{
		Amount: &newAmount,
		Status: &completed,
	})
	s.Require().NoError(err)
	s.True(updated.Amount.Equal(newAmount))

	s.eventually(2*time.Second, func() bool {
		for _, row := range s.auditRows(dto.ID.String()) {
			if row.Action == auditmodels.ActionUpdate && row.Status == auditmodels.StatusSuccess {
				return true
			}
		}
		return false
	}, "expected an UPDATE/SUCCESS audit row")

	s.Require().NoError(s.coord.DeleteTransaction(ctx, dto.ID, s.userID))
	_, err = s.store.FindByIDForUser(ctx, dto.ID, s.userID)
	s.Error(err, "row must be gone after delete")

	s.eventually(2*time.Second, func() bool {
		for _, row := range s.auditRows(dto.ID.String()) {
			if row.Action == auditmodels.ActionDelete && row.Status == auditmodels.StatusSuccess {
				return true
			}
		}
		return false
	}, "expected a DELETE/SUCCESS audit row")
}

func (s *SagaSuite) TestConcurrentCreates() {
	const n = 5
	type result struct {
		dto *txnmodels.DTO
		err error
	}
	results := make(chan result, n)

	start := time.Now()
	for i := 0; i < n; i++ {
		go func(i int) {
			dto, err := s.coord.CreateTransaction(context.Background(), s.userID, txnmodels.CreateRequest{
				Amount:   decimal.NewFromInt(int64(100 + i)),
				Currency: txnmodels.CurrencyUSD,
			})
			results <- result{dto, err}
		}(i)
	}

	ids := make(map[uuid.UUID]struct{})
	for i := 0; i < n; i++ {
		r := <-results
		s.Require().NoError(r.err)
		ids[r.dto.ID] = struct{}{}
	}
	s.Len(ids, n)
	s.Less(time.Since(start), 10*time.Second, "sagas must not serialize")

	// Each row gets exactly one CREATE/SUCCESS audit entry with a distinct
	// correlation id.
	correlations := make(map[string]struct{})
	for id := range ids {
		s.eventually(2*time.Second, func() bool {
			return len(s.auditRows(id.String())) == 1
		}, "missing audit row for "+id.String())
		row := s.auditRows(id.String())[0]
		s.Equal(auditmodels.StatusSuccess, row.Status)
		correlations[row.CorrelationID] = struct{}{}
	}
	s.Len(correlations, n, "correlation ids must not repeat")
}

func (s *SagaSuite) TestRollbackCompensationIsIdempotent() {
	ctx := context.Background()
	dto, err := s.coord.CreateTransaction(ctx, s.userID, txnmodels.CreateRequest{
		Amount:   decimal.RequireFromString("42.00"),
		Currency: txnmodels.CurrencyCHF,
	})
	s.Require().NoError(err)

	s.eventually(2*time.Second, func() bool {
		return len(s.auditRows(dto.ID.String())) == 1
	}, "missing audit row")
	correlationID := s.auditRows(dto.ID.String())[0].CorrelationID

	publishRollback := func() {
		payload := []byte(fmt.Sprintf(`{"correlationId":%q,"reason":"manual compensation"}`, correlationID))
		s.Require().NoError(s.broker.Publish(ctx, streams.SubjectAuditRollback, []byte(correlationID), payload))
	}

	publishRollback()
	s.eventually(5*time.Second, func() bool {
		rows := s.auditRows(dto.ID.String())
		return len(rows) == 1 && rows[0].Status == auditmodels.StatusRolledBack
	}, "expected ROLLED_BACK after compensation")

	// Second delivery leaves the store unchanged.
	publishRollback()
	time.Sleep(time.Second)
	rows := s.auditRows(dto.ID.String())
	s.Require().Len(rows, 1)
	s.Equal(auditmodels.StatusRolledBack, rows[0].Status)
}

func (s *SagaSuite) TestValidationFailureLeavesNoTrace() {
	_, err := s.coord.CreateTransaction(context.Background(), s.userID, txnmodels.CreateRequest{
		Amount:   decimal.RequireFromString("-100"),
		Currency: txnmodels.CurrencyUSD,
	})
	s.Require().Error(err)
	s.Equal(domainerrors.CodeValidation, domainerrors.CodeOf(err))

	time.Sleep(2 * time.Second)
	logs, _, err := s.audits.List(context.Background(),
		auditmodels.Filter{UserID: s.userID.String()},
		auditmodels.NormalizePage(1, 100, true))
	s.Require().NoError(err)
	s.Empty(logs, "a rejected request must not reach the audit trail")
}
