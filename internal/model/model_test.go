package model

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingModel counts calls and remembers whether windows were all zero.
type recordingModel struct {
	mu        sync.Mutex
	calls     int
	zeroCalls int
	closed    atomic.Bool
	pred      Prediction
	err       error
	panicMsg  string
}

func (m *recordingModel) Infer(window []float32) (Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	m.calls++
	allZero := true
	for _, v := range window {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		m.zeroCalls++
	}
	return m.pred, m.err
}

func (m *recordingModel) Close() error {
	m.closed.Store(true)
	return nil
}

const fakeExt = "fakemodel"

var (
	fakeOnce   sync.Once
	fakeOpened sync.Map // path -> *recordingModel
)

func registerFake(t *testing.T) {
	t.Helper()
	fakeOnce.Do(func() {
		Register("fake", fakeExt, func(path string, meta Metadata, _ Options) (Model, error) {
			if filepath.Base(path) == "broken_sr48k_h512."+fakeExt {
				return nil, os.ErrInvalid
			}
			m := &recordingModel{pred: Prediction{Pitch: 60, Confidence: 0.9, Amplitude: 0.5}}
			fakeOpened.Store(path, m)
			return m, nil
		})
	})
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func TestParseMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		file      string
		wantRate  int
		wantChunk int
		wantExt   string
		wantErr   bool
	}{
		{"full pattern", "pesto_sr48k_h512.tflite", 48000, 512, "tflite", false},
		{"fractional rate", "mir-1k_sr44.1k_h1024.acf", 44100, 1024, "acf", false},
		{"extra tokens", "/models/pesto_mir1k_sr16k_hop_h256.tflite", 16000, 256, "tflite", false},
		{"trailing digits", "pesto2048.tflite", 0, 2048, "tflite", false},
		{"no geometry", "pesto.tflite", 0, DefaultChunkSize, "tflite", false},
		{"no extension", "pesto_sr48k_h512", 0, DefaultChunkSize, "", true},
		{"zero chunk", "pesto_sr48k_h0.tflite", 0, DefaultChunkSize, "tflite", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			meta, err := ParseMetadata(tt.file)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRate, meta.SampleRate)
			assert.Equal(t, tt.wantChunk, meta.ChunkSize)
			assert.Equal(t, tt.wantExt, meta.Extension)
			assert.Equal(t, filepath.Base(tt.file), meta.Name)
		})
	}
}

func TestSelectBest(t *testing.T) {
	t.Parallel()

	m := func(path string, rate, chunk int) Metadata {
		return Metadata{Path: path, SampleRate: rate, ChunkSize: chunk}
	}
	candidates := []Metadata{
		m("d/b_sr48k_h1024", 48000, 1024),
		m("d/a_sr48k_h256", 48000, 256),
		m("d/a_sr48k_h1024", 48000, 1024),
		m("d/c_sr44.1k_h512", 44100, 512),
		m("d/x2048", 0, 2048),
	}

	tests := []struct {
		name    string
		rate    int
		chunk   int
		want    string
		wantErr bool
	}{
		{"smallest at or above default, path tiebreak", 48000, 0, "d/a_sr48k_h1024", false},
		{"exact chunk", 48000, 256, "d/a_sr48k_h256", false},
		{"rate filters", 44100, 0, "d/c_sr44.1k_h512", false},
		{"unknown rate used as fallback", 16000, 0, "d/x2048", false},
		{"exact chunk falls through to unknown rate", 48000, 2048, "d/x2048", false},
		{"no exact chunk anywhere", 48000, 4096, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SelectBest(candidates, tt.rate, tt.chunk)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoCandidate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Path)
		})
	}
}

func TestSelectBestSmallestWhenAllBelowDefault(t *testing.T) {
	t.Parallel()

	got, err := SelectBest([]Metadata{
		{Path: "b", SampleRate: 48000, ChunkSize: 256},
		{Path: "a", SampleRate: 48000, ChunkSize: 128},
	}, 48000, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Path)
}

func TestCatalogDiscoverAndCache(t *testing.T) {
	registerFake(t)
	dir := t.TempDir()
	touch(t, dir, "p_sr48k_h1024."+fakeExt)
	touch(t, dir, "p_sr48k_h512."+fakeExt)
	touch(t, dir, "notes.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub."+fakeExt), 0o750))

	catalog := NewCatalog(time.Minute)
	found, err := catalog.Discover(dir)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, 512, found[0].ChunkSize)
	assert.Equal(t, 1024, found[1].ChunkSize)

	touch(t, dir, "p_sr48k_h2048."+fakeExt)
	cached, err := catalog.Discover(dir)
	require.NoError(t, err)
	assert.Len(t, cached, 2, "listing is served from cache")

	catalog.Invalidate(dir)
	fresh, err := catalog.Discover(dir)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)

	_, err = catalog.Discover(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSlotLoadSwapClosesPrevious(t *testing.T) {
	registerFake(t)
	dir := t.TempDir()
	first := touch(t, dir, "a_sr48k_h512."+fakeExt)
	second := touch(t, dir, "b_sr48k_h1024."+fakeExt)

	slot := NewSlot(Options{})
	t.Cleanup(func() { _ = slot.Close() })

	info, err := slot.Load(first, 48000)
	require.NoError(t, err)
	assert.Equal(t, 512, info.ChunkSize)
	assert.Equal(t, "fake", info.Backend)
	assert.Equal(t, 512, slot.ChunkSize())

	_, err = slot.Load(second, 44100)
	require.NoError(t, err, "sample rate mismatch is only a warning")
	assert.Equal(t, 1024, slot.ChunkSize())

	prev, ok := fakeOpened.Load(first)
	require.True(t, ok)
	assert.True(t, prev.(*recordingModel).closed.Load())
}

func TestSlotLoadFailureKeepsCurrent(t *testing.T) {
	registerFake(t)
	dir := t.TempDir()
	good := touch(t, dir, "good_sr48k_h512."+fakeExt)
	broken := touch(t, dir, "broken_sr48k_h512."+fakeExt)

	slot := NewSlot(Options{})
	t.Cleanup(func() { _ = slot.Close() })

	_, err := slot.Load(good, 48000)
	require.NoError(t, err)

	_, err = slot.Load(broken, 48000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoad)

	_, err = slot.Load(filepath.Join(dir, "model.unknownext"), 48000)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	info, ok := slot.Info()
	require.True(t, ok)
	assert.Equal(t, good, info.Path)
}

func TestPrepareLeavesSlotUntouched(t *testing.T) {
	registerFake(t)
	dir := t.TempDir()
	path := touch(t, dir, "c_sr16k_h256."+fakeExt)

	m, info, err := Prepare(path, Options{}, 48000)
	require.NoError(t, err, "sample rate mismatch is only a warning")
	require.NotNil(t, m)
	t.Cleanup(func() { _ = m.Close() })
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 256, info.ChunkSize)

	_, _, err = Prepare(filepath.Join(dir, "model.unknownext"), Options{}, 48000)
	require.ErrorIs(t, err, ErrLoad)
}

func TestSlotInferWithoutModel(t *testing.T) {
	t.Parallel()

	slot := NewSlot(Options{})
	_, err := slot.Infer(make([]float32, 4))
	assert.ErrorIs(t, err, ErrNoModel)
	assert.ErrorIs(t, slot.WarmReset(8), ErrNoModel)
	assert.Zero(t, slot.ChunkSize())
}

func TestSlotWarmResetIssuesZeroChunks(t *testing.T) {
	t.Parallel()

	m := &recordingModel{}
	slot := NewSlot(Options{})
	slot.Install(m, Info{Metadata: Metadata{ChunkSize: 512}})

	require.NoError(t, slot.WarmReset(DefaultWarmResetChunks))
	assert.Equal(t, 8, m.calls)
	assert.Equal(t, 8, m.zeroCalls)
}

func TestSlotInferWrapsErrorsAndPanics(t *testing.T) {
	t.Parallel()

	slot := NewSlot(Options{})
	slot.Install(&recordingModel{err: os.ErrDeadlineExceeded}, Info{Metadata: Metadata{ChunkSize: 4}})
	_, err := slot.Infer(make([]float32, 4))
	assert.ErrorIs(t, err, ErrInference)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	slot.Install(&recordingModel{panicMsg: "bad tensor"}, Info{Metadata: Metadata{ChunkSize: 4}})
	_, err = slot.Infer(make([]float32, 4))
	assert.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "bad tensor")
}

func TestSlotConcurrentInferAndSwap(t *testing.T) {
	t.Parallel()

	slot := NewSlot(Options{})
	slot.Install(&recordingModel{}, Info{Metadata: Metadata{ChunkSize: 64}})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Go(func() {
		window := make([]float32, 64)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, err := slot.Infer(window)
			assert.NoError(t, err)
		}
	})
	for range 50 {
		slot.Install(&recordingModel{}, Info{Metadata: Metadata{ChunkSize: 64}})
	}
	close(stop)
	wg.Wait()
	require.NoError(t, slot.Close())
}
