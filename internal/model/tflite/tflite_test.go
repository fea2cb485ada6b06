package tflite

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pitchnet-go/internal/model"
)

func TestDetermineThreadCount(t *testing.T) {
	t.Parallel()

	cpus := runtime.NumCPU()
	assert.Equal(t, 1, determineThreadCount(1))
	assert.Equal(t, cpus, determineThreadCount(cpus+16))

	auto := determineThreadCount(0)
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, cpus)
}

func TestRegisteredForExtension(t *testing.T) {
	t.Parallel()

	assert.Contains(t, model.Extensions(), Extension)
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := model.Open(filepath.Join(t.TempDir(), "pesto_sr48k_h512.tflite"), model.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrLoad)
}

func TestOpenGarbageModel(t *testing.T) {
	if os.Getenv("PITCHNET_TFLITE_TESTS") == "" {
		t.Skip("set PITCHNET_TFLITE_TESTS=1 to exercise the TFLite C library")
	}
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage_sr48k_h512.tflite")
	require.NoError(t, os.WriteFile(path, []byte("not a flatbuffer"), 0o600))

	_, _, err := model.Open(path, model.Options{})
	assert.ErrorIs(t, err, model.ErrLoad)
}
