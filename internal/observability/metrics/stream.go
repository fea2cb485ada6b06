package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/pitchnet-go/internal/model"
)

// StreamMetrics covers the inference path of one stream. It satisfies the
// worker's recorder and the controller's observer.
type StreamMetrics struct {
	Inferences       *prometheus.CounterVec
	InferenceLatency prometheus.Histogram
	GatedResults     prometheus.Counter
	ModelLoads       *prometheus.CounterVec
	Reconfigurations prometheus.Counter
	WarmResets       prometheus.Counter
	ChunkSize        prometheus.Gauge
	RingCapacity     prometheus.Gauge
}

// NewStreamMetrics creates and registers stream metrics.
func NewStreamMetrics(registry prometheus.Registerer) (*StreamMetrics, error) {
	m := &StreamMetrics{
		Inferences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchnet_inferences_total",
			Help: "Total number of model calls by status",
		}, []string{"status"}),
		InferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pitchnet_inference_duration_seconds",
			Help:    "Duration of one model call in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		GatedResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitchnet_gated_results_total",
			Help: "Total number of results replaced by the gated pitch sentinel",
		}),
		ModelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchnet_model_loads_total",
			Help: "Total number of model load attempts by backend and status",
		}, []string{"backend", "status"}),
		Reconfigurations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitchnet_reconfigurations_total",
			Help: "Total number of model or chunk size swaps",
		}),
		WarmResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitchnet_warm_resets_total",
			Help: "Total number of model warm resets",
		}),
		ChunkSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pitchnet_chunk_size_samples",
			Help: "Samples per inference window of the active model",
		}),
		RingCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pitchnet_ring_capacity_samples",
			Help: "Capacity of the sample ring buffer",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register stream metrics: %w", err)
	}
	return m, nil
}

// ObserveInference records one model call.
func (m *StreamMetrics) ObserveInference(elapsed time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.Inferences.WithLabelValues(status).Inc()
	m.InferenceLatency.Observe(elapsed.Seconds())
}

// ObserveGated records a gated result.
func (m *StreamMetrics) ObserveGated() {
	m.GatedResults.Inc()
}

// ObserveModelLoad records a load attempt.
func (m *StreamMetrics) ObserveModelLoad(info model.Info, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	backend := info.Backend
	if backend == "" {
		backend = "unknown"
	}
	m.ModelLoads.WithLabelValues(backend, status).Inc()
}

// ObserveReconfigure records a completed swap.
func (m *StreamMetrics) ObserveReconfigure(chunkSize, ringCapacity int) {
	m.Reconfigurations.Inc()
	m.ChunkSize.Set(float64(chunkSize))
	m.RingCapacity.Set(float64(ringCapacity))
}

// ObserveWarmReset records a warm reset.
func (m *StreamMetrics) ObserveWarmReset() {
	m.WarmResets.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Inferences.Describe(ch)
	ch <- m.InferenceLatency.Desc()
	ch <- m.GatedResults.Desc()
	m.ModelLoads.Describe(ch)
	ch <- m.Reconfigurations.Desc()
	ch <- m.WarmResets.Desc()
	ch <- m.ChunkSize.Desc()
	ch <- m.RingCapacity.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Inferences.Collect(ch)
	ch <- m.InferenceLatency
	ch <- m.GatedResults
	m.ModelLoads.Collect(ch)
	ch <- m.Reconfigurations
	ch <- m.WarmResets
	ch <- m.ChunkSize
	ch <- m.RingCapacity
}

// StreamSource exposes the counters kept by the audio path. They are read at
// scrape time so the audio thread never touches Prometheus.
type StreamSource interface {
	Overruns() uint64
	Available() int
	DroppedTriggers() uint64
}

// RegisterStreamSource registers scrape-time collectors for src.
func RegisterStreamSource(registry prometheus.Registerer, src StreamSource) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "pitchnet_ring_overruns_total",
			Help: "Total number of samples overwritten before they were consumed",
		}, func() float64 { return float64(src.Overruns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pitchnet_ring_fill_samples",
			Help: "Samples currently buffered in the ring",
		}, func() float64 { return float64(src.Available()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "pitchnet_dropped_triggers_total",
			Help: "Total number of inference triggers refused because one was pending",
		}, func() float64 { return float64(src.DroppedTriggers()) }),
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("failed to register stream source metrics: %w", err)
		}
	}
	return nil
}
