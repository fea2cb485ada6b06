package autocorr

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pitchnet-go/internal/model"
)

func sine(freq, sampleRate float64, n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

func TestEstimatorTracksSine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		freq     float64
		wantMIDI float64
	}{
		{"A4", 440, 69},
		{"A3", 220, 57},
		{"E5", 659.255, 76},
	}
	est, err := New(Descriptor{SampleRate: 48000}, 1024)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := est.Infer(sine(tt.freq, 48000, 1024, 0.5))
			require.NoError(t, err)
			assert.InDelta(t, tt.wantMIDI, p.Pitch, 0.15)
			assert.Greater(t, p.Confidence, float32(0.9))
			assert.LessOrEqual(t, p.Confidence, float32(1))
			assert.InDelta(t, 0.5/math.Sqrt2, p.Amplitude, 0.01)
		})
	}
}

func TestEstimatorSilence(t *testing.T) {
	t.Parallel()

	est, err := New(Descriptor{}, 512)
	require.NoError(t, err)

	p, err := est.Infer(make([]float32, 512))
	require.NoError(t, err)
	assert.Equal(t, model.Prediction{}, p)
}

func TestEstimatorRejectsShortWindow(t *testing.T) {
	t.Parallel()

	est, err := New(Descriptor{SampleRate: 48000}, 1024)
	require.NoError(t, err)

	_, err = est.Infer(make([]float32, 100))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Descriptor{MinFrequency: 500, MaxFrequency: 100}, 512)
	assert.Error(t, err)

	_, err = New(Descriptor{}, 2)
	assert.Error(t, err)
}

func TestOpenThroughRegistry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "acf_sr16k_h1024.acf")
	require.NoError(t, os.WriteFile(path, []byte("min_frequency: 80\nmax_frequency: 1000\n"), 0o600))

	m, info, err := model.Open(path, model.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, "autocorr", info.Backend)
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 1024, info.ChunkSize)

	p, err := m.Infer(sine(220, 16000, 1024, 0.3))
	require.NoError(t, err)
	assert.InDelta(t, 57, p.Pitch, 0.15)
}

func TestOpenRejectsBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken_h512.acf")
	require.NoError(t, os.WriteFile(path, []byte("min_frequency: [unterminated"), 0o600))

	_, _, err := model.Open(path, model.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrLoad)
}
