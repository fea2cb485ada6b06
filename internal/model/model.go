// Package model owns pitch models: backend registration, artifact discovery
// and the Slot that serializes inference against hot swaps.
package model

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/tphakala/pitchnet-go/internal/errors"
)

const (
	// DefaultChunkSize is used when a model name carries no chunk size and as
	// the lower bound for automatic selection.
	DefaultChunkSize = 512
	// DefaultWarmResetChunks is the number of zero chunks fed on reset.
	DefaultWarmResetChunks = 8
)

// Sentinel errors. Loading and inference failures are wrapped in
// *errors.EnhancedError and still match these with errors.Is.
var (
	ErrLoad           = errors.NewStd("model load failed")
	ErrInference      = errors.NewStd("inference failed")
	ErrNoModel        = errors.NewStd("no model loaded")
	ErrNoCandidate    = errors.NewStd("no compatible model found")
	ErrUnknownBackend = errors.NewStd("no backend registered for model extension")
)

// Prediction is the scalar triple produced by one inference call.
type Prediction struct {
	Pitch      float32
	Confidence float32
	Amplitude  float32
}

// Model is a loaded pitch estimator. Infer is only called by one goroutine at
// a time; the Slot guarantees it.
type Model interface {
	Infer(window []float32) (Prediction, error)
	Close() error
}

// Options are passed to backends when opening a model.
type Options struct {
	Threads    int
	UseXNNPACK bool
}

// Opener builds a Model from an artifact on disk.
type Opener func(path string, meta Metadata, opts Options) (Model, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]backend)
)

type backend struct {
	name string
	open Opener
}

// Register makes a backend available for files with the given extension.
// Backends register themselves from init.
func Register(name, ext string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[normalizeExt(ext)] = backend{name: name, open: open}
}

// Extensions lists the registered model file extensions.
func Extensions() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	exts := make([]string, 0, len(backends))
	for ext := range backends {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

func lookupBackend(path string) (backend, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[normalizeExt(filepath.Ext(path))]
	return b, ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
