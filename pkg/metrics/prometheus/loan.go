// Package prometheus implements metrics.LoanMetrics with Prometheus collectors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittoloan/pkg/metrics"
)

type loanMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	handshakesTotal *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	queueDepth      prometheus.Gauge
	lateRenewals    prometheus.Counter
}

// NewLoanMetrics creates a Prometheus-backed LoanMetrics registered on the
// global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewLoanMetrics() metrics.LoanMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopLoanMetrics()
	}
	return newLoanMetrics(metrics.GetRegistry())
}

func newLoanMetrics(reg prometheus.Registerer) *loanMetrics {
	return &loanMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoloan_requests_total",
				Help: "Total number of book requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoloan_request_duration_milliseconds",
				Help: "Time from dequeue to response written, in milliseconds",
				Buckets: []float64{
					0.1,  // 100µs
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"operation"},
		),
		handshakesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoloan_handshakes_total",
				Help: "Total number of session handshakes by outcome",
			},
			[]string{"outcome"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittoloan_active_sessions",
				Help: "Current number of connected clients",
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittoloan_queue_depth",
				Help: "Messages waiting in the request queue",
			},
		),
		lateRenewals: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoloan_late_renewals_total",
				Help: "Total number of renewals of overdue copies",
			},
		),
	}
}

func (m *loanMetrics) RecordRequest(operation, outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(operation, outcome).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *loanMetrics) RecordHandshake(outcome string) {
	m.handshakesTotal.WithLabelValues(outcome).Inc()
}

func (m *loanMetrics) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func (m *loanMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *loanMetrics) RecordLateRenewal() {
	m.lateRenewals.Inc()
}
