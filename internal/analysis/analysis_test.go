package analysis

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pitchnet-go/internal/capture"
	"github.com/tphakala/pitchnet-go/internal/conf"
	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/inference"
	_ "github.com/tphakala/pitchnet-go/internal/model/autocorr"
	"github.com/tphakala/pitchnet-go/internal/output"
)

const testRate = 16000

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pitch_sr16k_h512.acf"), []byte("min_frequency: 80\n"), 0o600))

	s := &conf.Settings{}
	s.Main.Name = "test"
	s.Stream.SampleRate = testRate
	s.Stream.MinBufferSize = 4096
	s.Stream.WaitTimeout = 20 * time.Millisecond
	s.Stream.WarmResetChunks = 1
	s.Stream.BlockSize = 64
	s.Model.Dir = dir
	s.Model.DiscoveryTTL = time.Second
	s.Output.QueueSize = 256
	return s
}

func writeToneWAV(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, frames)
	for i := range data {
		data[i] = int(math.Round(12000 * math.Sin(2*math.Pi*440*float64(i)/testRate)))
	}
	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: testRate, NumChannels: 1},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func sine(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	return out
}

func TestPipelineDeliversResults(t *testing.T) {
	settings := testSettings(t)

	p, err := NewPipeline(t.Context(), settings)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	defer func() { require.NoError(t, p.Close()) }()

	assert.Equal(t, 512, p.Controller.Status().ChunkSize)
	assert.Nil(t, p.History)

	p.Controller.Process(sine(512))

	require.Eventually(t, func() bool {
		_, ok := p.Latest.Get()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	r, _ := p.Latest.Get()
	assert.Equal(t, "pitch_sr16k_h512.acf", r.Model)
	assert.Equal(t, 512, r.ChunkSize)
	assert.InDelta(t, 69, r.Pitch, 0.5)
	assert.False(t, r.Gated)
}

func TestPipelineAppliesThresholds(t *testing.T) {
	settings := testSettings(t)
	settings.Thresholds.Amplitude = 0.9

	p, err := NewPipeline(t.Context(), settings)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	defer func() { require.NoError(t, p.Close()) }()

	st := p.Controller.Status()
	assert.InDelta(t, 0.9, st.AmplitudeThreshold, 1e-6)
	assert.Zero(t, st.ConfidenceThreshold)

	p.Controller.Process(sine(512))
	require.Eventually(t, func() bool {
		_, ok := p.Latest.Get()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	r, _ := p.Latest.Get()
	assert.True(t, r.Gated)
	assert.Equal(t, inference.GatedPitch, r.Pitch)
}

func TestPipelineRequiresModel(t *testing.T) {
	settings := testSettings(t)
	settings.Model.Dir = t.TempDir()

	p, err := NewPipeline(t.Context(), settings)
	require.NoError(t, err)
	err = p.Start(t.Context())
	require.Error(t, err)
	require.NoError(t, p.Close())
}

func TestNewPipelineNilSettings(t *testing.T) {
	_, err := NewPipeline(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRunFileLockstep(t *testing.T) {
	settings := testSettings(t)
	settings.InputFile = writeToneWAV(t, testRate)
	settings.Pacing = "lockstep"

	dbPath := filepath.Join(t.TempDir(), "history.db")
	settings.Output.History = conf.HistorySettings{
		Enabled:       true,
		Driver:        "sqlite",
		DSN:           dbPath,
		BatchSize:     8,
		FlushInterval: time.Second,
	}

	summary, err := RunFile(t.Context(), settings)
	require.NoError(t, err)

	assert.Equal(t, testRate, summary.Format.SampleRate)
	assert.EqualValues(t, testRate, summary.Samples)
	assert.EqualValues(t, testRate/512, summary.Results)
	assert.Zero(t, summary.Dropped)
	assert.Positive(t, summary.Realtime)

	hist, err := output.OpenHistory(output.HistoryConfig{Driver: "sqlite", DSN: dbPath})
	require.NoError(t, err)
	defer func() { _ = hist.Close() }()

	records, err := hist.Recent(t.Context(), "", 100)
	require.NoError(t, err)
	assert.Len(t, records, testRate/512)
}

func TestRunFileResamples(t *testing.T) {
	settings := testSettings(t)
	settings.InputFile = writeToneWAV(t, testRate/2)
	settings.Stream.SampleRate = 48000
	require.NoError(t, os.WriteFile(filepath.Join(settings.Model.Dir, "pitch_sr48k_h1024.acf"), []byte("{}\n"), 0o600))

	summary, err := RunFile(t.Context(), settings)
	require.NoError(t, err)

	assert.Equal(t, testRate, summary.Format.SampleRate)
	assert.InDelta(t, 24000, summary.Samples, 24000*0.02)
	assert.Positive(t, summary.Results)
}

func TestRunFileCanceled(t *testing.T) {
	settings := testSettings(t)
	settings.InputFile = writeToneWAV(t, testRate)
	settings.Pacing = "realtime"

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := RunFile(ctx, settings)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnalysisCanceled) || errors.Is(err, context.DeadlineExceeded))
}

func TestRunFileInvalidPacing(t *testing.T) {
	settings := testSettings(t)
	settings.InputFile = writeToneWAV(t, 1024)
	settings.Pacing = "sometimes"

	_, err := RunFile(t.Context(), settings)
	require.Error(t, err)
}

func TestValidateAudioFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.wav")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	tests := []struct {
		name     string
		path     string
		category errors.ErrorCategory
	}{
		{"no path", "", errors.CategoryValidation},
		{"missing", filepath.Join(dir, "missing.wav"), errors.CategoryFileIO},
		{"directory", dir, errors.CategoryValidation},
		{"empty", empty, errors.CategoryValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateAudioFile(tt.path)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	writeSummary(&sb, &FileSummary{
		File:     "/tmp/tone.wav",
		Format:   capture.Format{SampleRate: 16000, Channels: 1, BitDepth: 16},
		Samples:  16000,
		Results:  31,
		Elapsed:  1500 * time.Millisecond,
		Realtime: 0.67,
	})
	out := sb.String()
	assert.Contains(t, out, "tone.wav: 16000 Hz, 1 ch, 16-bit")
	assert.Contains(t, out, "results: 31, dropped: 0")
	assert.Contains(t, out, "1.5s (0.7x realtime)")
}
