package saga

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"fintrail/internal/platform/kafka/consumer"
	"fintrail/internal/platform/metrics"
	"fintrail/pkg/streams"
)

// Registry multiplexes every in-flight saga over one pair of stream
// subscriptions. It maps correlation id to a one-shot waiter; the background
// consumers only do a map lookup and a channel send, never I/O, so they
// cannot stall the publisher.
//
// Each waiter resolves exactly once: true on ack, false on failure message,
// timeout, or shutdown. Messages for unknown correlation ids (late acks) are
// dropped.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	logger  *slog.Logger
	metrics *metrics.SagaMetrics
}

type waiter struct {
	ch    chan bool
	timer *time.Timer
}

func NewRegistry(logger *slog.Logger, m *metrics.SagaMetrics) *Registry {
	return &Registry{
		waiters: make(map[string]*waiter),
		logger:  logger,
		metrics: m,
	}
}

// Register installs a waiter for correlationID and arms its timeout. Call
// this BEFORE publishing the audit request: the ordering guarantees the ack
// cannot arrive while no waiter exists. The returned channel yields exactly
// one value.
//
// A second Register for the same id overwrites the earlier waiter, which
// resolves false; fresh uuids make this unreachable within one process.
func (r *Registry) Register(correlationID string, timeout time.Duration) <-chan bool {
	w := &waiter{ch: make(chan bool, 1)}

	r.mu.Lock()
	if old, ok := r.waiters[correlationID]; ok {
		old.timer.Stop()
		old.ch <- false
		r.metrics.PendingWaiters.Dec()
	}
	r.waiters[correlationID] = w
	// Arm inside the lock so a resolve cannot observe a nil timer.
	w.timer = time.AfterFunc(timeout, func() {
		if r.resolve(correlationID, false) {
			r.logger.Warn("audit ack timed out", "correlation_id", correlationID)
		}
	})
	r.mu.Unlock()

	r.metrics.PendingWaiters.Inc()
	return w.ch
}

// Cancel removes a waiter without waiting for its timeout, e.g. when the
// publish it was registered for never went out.
func (r *Registry) Cancel(correlationID string) {
	r.resolve(correlationID, false)
}

// resolve delivers the outcome to the waiter if it still exists. The send
// cannot block: the channel is buffered and the entry is removed under the
// lock, so at most one resolve wins.
func (r *Registry) resolve(correlationID string, ok bool) bool {
	r.mu.Lock()
	w, exists := r.waiters[correlationID]
	if exists {
		delete(r.waiters, correlationID)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	w.timer.Stop()
	w.ch <- ok
	r.metrics.PendingWaiters.Dec()
	return true
}

// Pending reports the number of in-flight waiters.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Shutdown resolves every in-flight waiter false so owning sagas observe
// timeout semantics and roll back.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[string]*waiter)
	r.mu.Unlock()

	for _, w := range waiters {
		w.timer.Stop()
		w.ch <- false
		r.metrics.PendingWaiters.Dec()
	}
}

// Handle implements the stream consumer contract for the ack and failure
// subjects. Unknown topics and malformed payloads are dropped with a log
// line; the offset always commits because redelivering a resolution message
// can never help.
func (r *Registry) Handle(ctx context.Context, msg *consumer.Message) error {
	switch msg.Topic {
	case streams.SubjectAuditCreated:
		var env streams.AuditCreatedEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			r.logger.ErrorContext(ctx, "malformed ack envelope", "error", err)
			return nil
		}
		if !r.resolve(env.CorrelationID, true) {
			r.metrics.LateAcks.Inc()
			r.logger.InfoContext(ctx, "late ack dropped", "correlation_id", env.CorrelationID)
		}
	case streams.SubjectAuditFailed:
		var env streams.AuditFailedEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			r.logger.ErrorContext(ctx, "malformed failure envelope", "error", err)
			return nil
		}
		if r.resolve(env.CorrelationID, false) {
			r.logger.WarnContext(ctx, "audit creation failed remotely",
				"correlation_id", env.CorrelationID,
				"error", env.Error,
			)
		} else {
			r.metrics.LateAcks.Inc()
		}
	default:
		r.logger.WarnContext(ctx, "unexpected topic on registry subscription", "topic", msg.Topic)
	}
	return nil
}
