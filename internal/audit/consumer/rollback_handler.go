package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"fintrail/internal/platform/kafka/consumer"
	"fintrail/internal/platform/metrics"
	"fintrail/pkg/streams"
)

// RollbackStore is the storage surface the compensator needs.
type RollbackStore interface {
	MarkRolledBack(ctx context.Context, correlationID string) (int64, error)
}

// RollbackHandler applies saga compensation: every row sharing the message's
// correlation id transitions to ROLLED_BACK. Reprocessing the same message
// has no further effect.
type RollbackHandler struct {
	store   RollbackStore
	logger  *slog.Logger
	metrics *metrics.ConsumerMetrics
}

func NewRollbackHandler(store RollbackStore, logger *slog.Logger, m *metrics.ConsumerMetrics) *RollbackHandler {
	return &RollbackHandler{store: store, logger: logger, metrics: m}
}

func (h *RollbackHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	ctx, span := otel.Tracer("fintrail/audit").Start(ctx, "audit.rollback")
	defer span.End()

	var env streams.AuditRollbackEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		h.logger.ErrorContext(ctx, "malformed rollback envelope",
			"key", string(msg.Key),
			"error", err,
		)
		h.metrics.Failed.WithLabelValues(msg.Topic).Inc()
		return nil
	}
	if env.CorrelationID == "" {
		h.logger.ErrorContext(ctx, "rollback envelope missing correlationId")
		h.metrics.Failed.WithLabelValues(msg.Topic).Inc()
		return nil
	}

	n, err := h.store.MarkRolledBack(ctx, env.CorrelationID)
	if err != nil {
		h.metrics.Failed.WithLabelValues(msg.Topic).Inc()
		return fmt.Errorf("apply rollback %s: %w", env.CorrelationID, err)
	}

	h.logger.InfoContext(ctx, "rollback applied",
		"correlation_id", env.CorrelationID,
		"reason", env.Reason,
		"rows", n,
	)
	h.metrics.Processed.WithLabelValues(msg.Topic).Inc()
	return nil
}
