// Package saga drives the transaction write path: a local database
// transaction commits only after the audit service acknowledges the matching
// trail entry, and every failure path leaves both stores consistent via
// rollback plus compensation.
package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fintrail/internal/platform/kafka"
	"fintrail/internal/platform/metrics"
	"fintrail/internal/platform/middleware"
	"fintrail/internal/transaction/models"
	"fintrail/pkg/domainerrors"
	"fintrail/pkg/platform/sentinel"
	txcontext "fintrail/pkg/platform/tx"
	"fintrail/pkg/requestcontext"
	"fintrail/pkg/streams"
)

// Store is the row-change surface the coordinator drives inside its local
// transaction. Implementations pick the transaction up from context.
type Store interface {
	Insert(ctx context.Context, t *models.Transaction) error
	FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Transaction, error)
	Update(ctx context.Context, t *models.Transaction) error
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// DB is the slice of *sql.DB the coordinator needs.
type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

const entityType = "Transaction"

// Coordinator runs create/update/delete sagas. Many sagas run concurrently;
// each holds one pooled connection from begin to commit/rollback, so the ack
// timeout bounds pool occupancy.
type Coordinator struct {
	db          DB
	store       Store
	registry    *Registry
	publisher   kafka.Publisher
	logger      *slog.Logger
	metrics     *metrics.SagaMetrics
	serviceName string
	ackTimeout  time.Duration
}

func NewCoordinator(
	db DB,
	store Store,
	registry *Registry,
	publisher kafka.Publisher,
	logger *slog.Logger,
	m *metrics.SagaMetrics,
	serviceName string,
	ackTimeout time.Duration,
) *Coordinator {
	return &Coordinator{
		db:          db,
		store:       store,
		registry:    registry,
		publisher:   publisher,
		logger:      logger,
		metrics:     m,
		serviceName: serviceName,
		ackTimeout:  ackTimeout,
	}
}

// CreateTransaction inserts a row and commits once the CREATE audit entry is
// acknowledged. New rows always start PENDING.
func (c *Coordinator) CreateTransaction(ctx context.Context, userID uuid.UUID, req models.CreateRequest) (*models.DTO, error) {
	if details := validateCreate(req); len(details) > 0 {
		return nil, domainerrors.Validation("invalid transaction", details)
	}

	ctx, span := otel.Tracer("fintrail/saga").Start(ctx, "saga.create")
	defer span.End()
	c.metrics.Started.WithLabelValues("create").Inc()

	now := time.Now().UTC()
	t := &models.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      models.StatusPending,
		Description: req.Description,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	dto, err := c.run(ctx, "create", func(txCtx context.Context) (*models.Transaction, *streams.Changes, error) {
		if err := c.store.Insert(txCtx, t); err != nil {
			return nil, nil, err
		}
		return t, &streams.Changes{After: t.Snapshot()}, nil
	}, "CREATE", userID)
	if err != nil {
		return nil, err
	}
	return dto, nil
}

// UpdateTransaction applies a patch to an owned row and commits once the
// UPDATE audit entry, carrying both images, is acknowledged.
func (c *Coordinator) UpdateTransaction(ctx context.Context, id, userID uuid.UUID, req models.UpdateRequest) (*models.DTO, error) {
	if req.Empty() {
		return nil, domainerrors.Validation("invalid transaction", map[string]string{"body": "at least one field is required"})
	}
	if details := validateUpdate(req); len(details) > 0 {
		return nil, domainerrors.Validation("invalid transaction", details)
	}

	ctx, span := otel.Tracer("fintrail/saga").Start(ctx, "saga.update")
	defer span.End()
	c.metrics.Started.WithLabelValues("update").Inc()

	dto, err := c.run(ctx, "update", func(txCtx context.Context) (*models.Transaction, *streams.Changes, error) {
		before, err := c.store.FindByIDForUser(txCtx, id, userID)
		if err != nil {
			return nil, nil, err
		}
		after := *before
		applyPatch(&after, req)
		after.UpdatedAt = time.Now().UTC()
		if err := c.store.Update(txCtx, &after); err != nil {
			return nil, nil, err
		}
		return &after, &streams.Changes{Before: before.Snapshot(), After: after.Snapshot()}, nil
	}, "UPDATE", userID)
	if err != nil {
		return nil, err
	}
	return dto, nil
}

// DeleteTransaction removes an owned row and commits once the DELETE audit
// entry, carrying the pre-image, is acknowledged.
func (c *Coordinator) DeleteTransaction(ctx context.Context, id, userID uuid.UUID) error {
	ctx, span := otel.Tracer("fintrail/saga").Start(ctx, "saga.delete")
	defer span.End()
	c.metrics.Started.WithLabelValues("delete").Inc()

	_, err := c.run(ctx, "delete", func(txCtx context.Context) (*models.Transaction, *streams.Changes, error) {
		before, err := c.store.FindByIDForUser(txCtx, id, userID)
		if err != nil {
			return nil, nil, err
		}
		if err := c.store.Delete(txCtx, id, userID); err != nil {
			return nil, nil, err
		}
		return before, &streams.Changes{Before: before.Snapshot()}, nil
	}, "DELETE", userID)
	return err
}

// run executes the shared saga skeleton: begin, mutate, register waiter,
// publish, await ack, commit or roll back + compensate.
func (c *Coordinator) run(
	ctx context.Context,
	operation string,
	mutate func(txCtx context.Context) (*models.Transaction, *streams.Changes, error),
	action string,
	userID uuid.UUID,
) (*models.DTO, error) {
	correlationID := uuid.NewString()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("saga.correlation_id", correlationID))

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.metrics.RolledBack.WithLabelValues(operation).Inc()
		return nil, domainerrors.Wrap(domainerrors.CodeDatabase, "begin transaction", err)
	}
	txCtx := txcontext.WithTx(ctx, tx)

	entity, changes, err := mutate(txCtx)
	if err != nil {
		_ = tx.Rollback()
		c.metrics.RolledBack.WithLabelValues(operation).Inc()
		// Local-only failure: nothing was published, so there is nothing to
		// compensate. NotFound must not leak whether the row exists for a
		// different owner.
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.NotFound("transaction")
		}
		return nil, domainerrors.Wrap(domainerrors.CodeDatabase, operation+" transaction", err)
	}

	envelope := c.buildEnvelope(ctx, action, entity, changes, correlationID, userID)
	payload, err := json.Marshal(envelope)
	if err != nil {
		_ = tx.Rollback()
		c.metrics.RolledBack.WithLabelValues(operation).Inc()
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "encode audit envelope", err)
	}

	// Register before publish: the ack must never race a missing waiter.
	waiter := c.registry.Register(correlationID, c.ackTimeout)

	if err := c.publisher.Publish(ctx, streams.SubjectAuditCreate, []byte(correlationID), payload); err != nil {
		c.registry.Cancel(correlationID)
		<-waiter
		return nil, c.abort(ctx, tx, operation, correlationID, fmt.Sprintf("publish failed: %v", err))
	}

	start := time.Now()
	ok := <-waiter
	c.metrics.AckWait.Observe(time.Since(start).Seconds())
	if !ok {
		return nil, c.abort(ctx, tx, operation, correlationID,
			fmt.Sprintf("no audit acknowledgement within %s", c.ackTimeout))
	}

	if err := tx.Commit(); err != nil {
		// The audit row exists remotely; compensation flips it to ROLLED_BACK.
		return nil, c.abort(ctx, tx, operation, correlationID, fmt.Sprintf("commit failed: %v", err))
	}

	span.SetAttributes(attribute.String("saga.outcome", "committed"))
	c.metrics.Committed.WithLabelValues(operation).Inc()
	c.logger.InfoContext(ctx, "saga committed",
		"operation", operation,
		"correlation_id", correlationID,
		"transaction_id", entity.ID,
	)
	return entity.ToDTO(), nil
}

// abort rolls back the local transaction, publishes compensation, and
// returns the externalized saga failure.
func (c *Coordinator) abort(ctx context.Context, tx *sql.Tx, operation, correlationID, reason string) error {
	_ = tx.Rollback()
	c.metrics.RolledBack.WithLabelValues(operation).Inc()
	c.logger.ErrorContext(ctx, "saga aborted",
		"operation", operation,
		"correlation_id", correlationID,
		"reason", reason,
	)

	payload, err := json.Marshal(streams.AuditRollbackEnvelope{
		CorrelationID: correlationID,
		Reason:        reason,
	})
	if err == nil {
		err = c.publisher.Publish(ctx, streams.SubjectAuditRollback, []byte(correlationID), payload)
	}
	if err != nil {
		// Accepted window: a remote SUCCESS row may linger until external
		// reconciliation. Surface it loudly.
		c.metrics.RollbackPublishFailures.Inc()
		c.logger.ErrorContext(ctx, "compensation publish failed, audit row may be orphaned",
			"correlation_id", correlationID,
			"error", err,
		)
	}
	return domainerrors.DistributedTransaction(reason)
}

func (c *Coordinator) buildEnvelope(
	ctx context.Context,
	action string,
	entity *models.Transaction,
	changes *streams.Changes,
	correlationID string,
	userID uuid.UUID,
) streams.AuditCreateEnvelope {
	metadata := map[string]any{
		"amount":   json.Number(entity.Amount.StringFixed(2)),
		"currency": string(entity.Currency),
		"status":   string(entity.Status),
	}
	if ua := requestcontext.UserAgent(ctx); ua != "" {
		metadata["client"] = middleware.SummarizeUserAgent(ua)
	}

	return streams.AuditCreateEnvelope{
		Action:        action,
		EntityType:    entityType,
		EntityID:      entity.ID.String(),
		UserID:        userID.String(),
		Status:        "SUCCESS",
		Metadata:      metadata,
		Changes:       changes,
		IPAddress:     requestcontext.ClientIP(ctx),
		UserAgent:     requestcontext.UserAgent(ctx),
		CorrelationID: correlationID,
		ServiceName:   c.serviceName,
	}
}

func validateCreate(req models.CreateRequest) map[string]string {
	details := make(map[string]string)
	if !req.Amount.IsPositive() {
		details["amount"] = "must be greater than 0"
	}
	if !req.Currency.Valid() {
		details["currency"] = "must be one of the supported currencies"
	}
	return details
}

func validateUpdate(req models.UpdateRequest) map[string]string {
	details := make(map[string]string)
	if req.Amount != nil && !req.Amount.IsPositive() {
		details["amount"] = "must be greater than 0"
	}
	if req.Currency != nil && !req.Currency.Valid() {
		details["currency"] = "must be one of the supported currencies"
	}
	if req.Status != nil && !req.Status.Valid() {
		details["status"] = "must be one of the supported statuses"
	}
	return details
}

func applyPatch(t *models.Transaction, req models.UpdateRequest) {
	if req.Amount != nil {
		t.Amount = *req.Amount
	}
	if req.Currency != nil {
		t.Currency = *req.Currency
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Metadata != nil {
		t.Metadata = req.Metadata
	}
}
