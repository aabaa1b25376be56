package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	broadcasts     *prometheus.CounterVec
	orders         *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		broadcasts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcast_broadcasts_total",
				Help: "Total signal broadcasts by result",
			},
			[]string{"result"},
		),
		orders: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcast_orders_total",
				Help: "Total per-account order placements by status",
			},
			[]string{"status"},
		),
		tokenRefreshes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcast_token_refreshes_total",
				Help: "Total token refresh attempts by result",
			},
			[]string{"result"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalcast_queue_depth",
				Help: "Current number of jobs waiting in the durable queue",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalcast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordBroadcast records a broadcast invocation result.
func (r *Recorder) RecordBroadcast(result string) {
	r.broadcasts.WithLabelValues(result).Inc()
}

// RecordOrder records one per-account placement outcome.
func (r *Recorder) RecordOrder(status string) {
	r.orders.WithLabelValues(status).Inc()
}

// RecordTokenRefresh records a refresh attempt result.
func (r *Recorder) RecordTokenRefresh(result string) {
	r.tokenRefreshes.WithLabelValues(result).Inc()
}

// SetQueueDepth records the durable queue backlog.
func (r *Recorder) SetQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
