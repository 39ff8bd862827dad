package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"fintrail/internal/audit/models"
	"fintrail/internal/platform/kafka"
	"fintrail/internal/platform/kafka/consumer"
	"fintrail/internal/platform/metrics"
	"fintrail/pkg/platform/sentinel"
	"fintrail/pkg/streams"
)

// CreateStore is the storage surface the create handler needs.
type CreateStore interface {
	Insert(ctx context.Context, log *models.AuditLog) error
	FindByTriple(ctx context.Context, correlationID string, action models.Action, entityID string) (*models.AuditLog, error)
}

// CreateHandler turns audit.log.create envelopes into rows and answers each
// one with exactly one ack or fail message.
type CreateHandler struct {
	store     CreateStore
	publisher kafka.Publisher
	logger    *slog.Logger
	metrics   *metrics.ConsumerMetrics
}

func NewCreateHandler(store CreateStore, publisher kafka.Publisher, logger *slog.Logger, m *metrics.ConsumerMetrics) *CreateHandler {
	return &CreateHandler{store: store, publisher: publisher, logger: logger, metrics: m}
}

// Handle validates the envelope, writes the row, and publishes the outcome.
// Returning nil commits the offset; the only errors surfaced are publish
// failures, so the message redelivers and the unique correlation triple
// absorbs the duplicate insert.
func (h *CreateHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	ctx, span := otel.Tracer("fintrail/audit").Start(ctx, "audit.create")
	defer span.End()

	var env streams.AuditCreateEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		h.logger.ErrorContext(ctx, "malformed audit create envelope",
			"key", string(msg.Key),
			"error", err,
		)
		h.metrics.Failed.WithLabelValues(msg.Topic).Inc()
		return nil
	}

	if env.CorrelationID == "" {
		// Nothing to answer to; drop.
		h.logger.ErrorContext(ctx, "audit create envelope missing correlationId")
		h.metrics.Failed.WithLabelValues(msg.Topic).Inc()
		return nil
	}

	if reason := validateEnvelope(&env); reason != "" {
		h.logger.WarnContext(ctx, "rejecting audit create envelope",
			"correlation_id", env.CorrelationID,
			"reason", reason,
		)
		h.metrics.Failed.WithLabelValues(msg.Topic).Inc()
		return h.publishFailed(ctx, env.CorrelationID, reason)
	}

	status := models.Status(env.Status)
	if env.Status == "" {
		status = models.StatusSuccess
	}

	log := &models.AuditLog{
		ID:            uuid.New(),
		Action:        models.Action(env.Action),
		EntityType:    env.EntityType,
		EntityID:      env.EntityID,
		UserID:        env.UserID,
		Status:        status,
		Metadata:      env.Metadata,
		Changes:       env.Changes,
		IPAddress:     env.IPAddress,
		UserAgent:     env.UserAgent,
		CorrelationID: env.CorrelationID,
		ServiceName:   env.ServiceName,
		CreatedAt:     time.Now().UTC(),
	}

	if err := h.store.Insert(ctx, log); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Stream redelivery: the row is already written. Re-publish the
			// same ack so the waiter (if still there) resolves.
			existing, findErr := h.store.FindByTriple(ctx, env.CorrelationID, log.Action, env.EntityID)
			if findErr != nil {
				return fmt.Errorf("recover duplicate audit row: %w", findErr)
			}
			h.logger.InfoContext(ctx, "duplicate audit create absorbed",
				"correlation_id", env.CorrelationID,
				"audit_log_id", existing.ID,
			)
			return h.publishCreated(ctx, env.CorrelationID, existing.ID)
		}
		h.logger.ErrorContext(ctx, "audit insert failed",
			"correlation_id", env.CorrelationID,
			"error", err,
		)
		h.metrics.Failed.WithLabelValues(msg.Topic).Inc()
		return h.publishFailed(ctx, env.CorrelationID, err.Error())
	}

	h.metrics.Processed.WithLabelValues(msg.Topic).Inc()
	return h.publishCreated(ctx, env.CorrelationID, log.ID)
}

func (h *CreateHandler) publishCreated(ctx context.Context, correlationID string, auditLogID uuid.UUID) error {
	payload, err := json.Marshal(streams.AuditCreatedEnvelope{
		CorrelationID: correlationID,
		AuditLogID:    auditLogID.String(),
		Success:       true,
	})
	if err != nil {
		return fmt.Errorf("encode ack: %w", err)
	}
	return h.publisher.Publish(ctx, streams.SubjectAuditCreated, []byte(correlationID), payload)
}

func (h *CreateHandler) publishFailed(ctx context.Context, correlationID, reason string) error {
	payload, err := json.Marshal(streams.AuditFailedEnvelope{
		CorrelationID: correlationID,
		Error:         reason,
		Success:       false,
	})
	if err != nil {
		return fmt.Errorf("encode fail: %w", err)
	}
	return h.publisher.Publish(ctx, streams.SubjectAuditFailed, []byte(correlationID), payload)
}

func validateEnvelope(env *streams.AuditCreateEnvelope) string {
	switch {
	case env.ServiceName == "":
		return "serviceName is required"
	case env.EntityType == "":
		return "entityType is required"
	case env.EntityID == "":
		return "entityId is required"
	case !models.Action(env.Action).Valid():
		return fmt.Sprintf("unknown action %q", env.Action)
	case env.Status != "" && !models.Status(env.Status).Valid():
		return fmt.Sprintf("unknown status %q", env.Status)
	}
	return ""
}
