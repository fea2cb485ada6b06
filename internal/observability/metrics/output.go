package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// OutputMetrics covers result dispatch to sinks. It implements Recorder.
type OutputMetrics struct {
	Operations *prometheus.CounterVec
	Durations  *prometheus.HistogramVec
	Errors     *prometheus.CounterVec
	QueueDepth prometheus.Gauge
}

// NewOutputMetrics creates and registers output metrics.
func NewOutputMetrics(registry prometheus.Registerer) (*OutputMetrics, error) {
	m := &OutputMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchnet_output_operations_total",
			Help: "Total number of output operations by operation and status",
		}, []string{"operation", "status"}),
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pitchnet_output_operation_duration_seconds",
			Help:    "Duration of output operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchnet_output_errors_total",
			Help: "Total number of output errors by operation and type",
		}, []string{"operation", "error_type"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pitchnet_output_queue_depth",
			Help: "Results waiting in the dispatcher queue",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register output metrics: %w", err)
	}
	return m, nil
}

func (m *OutputMetrics) RecordOperation(operation, status string) {
	m.Operations.WithLabelValues(operation, status).Inc()
}

func (m *OutputMetrics) RecordDuration(operation string, seconds float64) {
	m.Durations.WithLabelValues(operation).Observe(seconds)
}

func (m *OutputMetrics) RecordError(operation, errorType string) {
	m.Errors.WithLabelValues(operation, errorType).Inc()
}

// SetQueueDepth records the dispatcher backlog.
func (m *OutputMetrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *OutputMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Operations.Describe(ch)
	m.Durations.Describe(ch)
	m.Errors.Describe(ch)
	ch <- m.QueueDepth.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *OutputMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Operations.Collect(ch)
	m.Durations.Collect(ch)
	m.Errors.Collect(ch)
	ch <- m.QueueDepth
}
