package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records worker activity as Prometheus collectors.
// A nil *Metrics records nothing.
type Metrics struct {
	// OperationsTotal counts executed ops by kind and status ("ok" or "error").
	OperationsTotal *prometheus.CounterVec
	// OperationDuration is the time spent executing each op, callback included.
	OperationDuration *prometheus.HistogramVec
	// QueueDepth is the number of ops waiting behind the one in flight.
	QueueDepth prometheus.Gauge
}

// NewMetrics creates the worker collectors and registers them with reg.
// A nil reg creates unregistered collectors.
//
// Panics if reg already holds collectors with the same names, as
// prometheus.MustRegister does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lane_operations_total",
				Help: "Total number of operations executed by the worker",
			},
			[]string{"kind", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lane_operation_duration_seconds",
				Help:    "Operation execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lane_queue_depth",
				Help: "Number of operations waiting in the queue",
			},
		),
	}
}

func (m *Metrics) observe(kind Kind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(kind.String(), status).Inc()
	m.OperationDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) setDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
