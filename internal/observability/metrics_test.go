package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewMetrics builds an independent registry each time, so concurrent calls
// must not collide.
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()
	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.Stream)
			assert.NotNil(t, m.Output)
			assert.NotNil(t, m.MQTT)
		})
	}
	wg.Wait()
}

type source struct{}

func (source) Overruns() uint64        { return 5 }
func (source) Available() int          { return 128 }
func (source) DroppedTriggers() uint64 { return 1 }

func TestHandlerServesStreamMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)
	require.NoError(t, m.AttachStream(source{}))
	m.Stream.ObserveReconfigure(512, 4096)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pitchnet_ring_overruns_total 5")
	assert.Contains(t, string(body), "pitchnet_chunk_size_samples 512")
	assert.Contains(t, string(body), "go_goroutines")

	require.Error(t, m.AttachStream(source{}), "a registry serves one stream")
}

func TestGatherStreamSourceTypes(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)
	require.NoError(t, m.AttachStream(source{}))

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	fill := byName["pitchnet_ring_fill_samples"]
	require.NotNil(t, fill)
	assert.Equal(t, dto.MetricType_GAUGE, fill.GetType())
	assert.InDelta(t, 128, fill.GetMetric()[0].GetGauge().GetValue(), 0)

	dropped := byName["pitchnet_dropped_triggers_total"]
	require.NotNil(t, dropped)
	assert.Equal(t, dto.MetricType_COUNTER, dropped.GetType())
	assert.InDelta(t, 1, dropped.GetMetric()[0].GetCounter().GetValue(), 0)
}
