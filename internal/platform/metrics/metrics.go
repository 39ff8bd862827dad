// Package metrics holds the Prometheus instruments for both services. Each
// binary registers only the family it uses; /metrics is served by the default
// registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SagaMetrics instruments the transaction saga coordinator and the
// correlation registry.
type SagaMetrics struct {
	Started                 *prometheus.CounterVec
	Committed               *prometheus.CounterVec
	RolledBack              *prometheus.CounterVec
	RollbackPublishFailures prometheus.Counter
	AckWait                 prometheus.Histogram
	PendingWaiters          prometheus.Gauge
	LateAcks                prometheus.Counter
}

// NewSagaMetrics registers the saga metric family. The operation label is
// create|update|delete.
func NewSagaMetrics() *SagaMetrics {
	return &SagaMetrics{
		Started: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fintrail_saga_started_total",
			Help: "Sagas started, by operation.",
		}, []string{"operation"}),
		Committed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fintrail_saga_committed_total",
			Help: "Sagas committed after audit acknowledgement, by operation.",
		}, []string{"operation"}),
		RolledBack: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fintrail_saga_rolled_back_total",
			Help: "Sagas rolled back, by operation.",
		}, []string{"operation"}),
		RollbackPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fintrail_saga_rollback_publish_failures_total",
			Help: "Compensation publishes that failed, leaving a remote SUCCESS row until reconciliation.",
		}),
		AckWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fintrail_saga_ack_wait_seconds",
			Help:    "Time spent waiting for the audit acknowledgement.",
			Buckets: prometheus.DefBuckets,
		}),
		PendingWaiters: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fintrail_registry_pending_waiters",
			Help: "Correlation waiters currently in flight.",
		}),
		LateAcks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fintrail_registry_late_acks_total",
			Help: "Acks or failures that arrived after their waiter was gone.",
		}),
	}
}

// ConsumerMetrics instruments the audit consumer/compensator.
type ConsumerMetrics struct {
	Processed *prometheus.CounterVec
	Failed    *prometheus.CounterVec
}

func NewConsumerMetrics() *ConsumerMetrics {
	return &ConsumerMetrics{
		Processed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fintrail_audit_messages_processed_total",
			Help: "Stream messages handled successfully, by topic.",
		}, []string{"topic"}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fintrail_audit_messages_failed_total",
			Help: "Stream messages whose handling failed, by topic.",
		}, []string{"topic"}),
	}
}

// HTTPMetrics instruments the request path of either service.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(service string) *HTTPMetrics {
	return &HTTPMetrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "fintrail_http_requests_total",
			Help:        "HTTP requests, by method and status class.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"method", "status"}),
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fintrail_http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
	}
}
