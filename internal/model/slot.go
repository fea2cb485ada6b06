package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
)

// Info describes the model currently installed in a Slot.
type Info struct {
	Metadata
	Backend  string    `json:"backend"`
	LoadedAt time.Time `json:"loadedAt"`
}

// Slot owns the active model. Its mutex is held only for one inference call,
// a swap, or a warm reset; loading happens outside it.
type Slot struct {
	mu    sync.Mutex
	model Model
	info  Info
	opts  Options
	zeros []float32
}

// NewSlot returns an empty slot. opts are handed to backends on Load.
func NewSlot(opts Options) *Slot {
	return &Slot{opts: opts}
}

// Load opens the artifact at path and installs it, replacing the current
// model. On failure the current model stays active.
func (s *Slot) Load(path string, streamRate int) (Info, error) {
	m, info, err := Prepare(path, s.opts, streamRate)
	if err != nil {
		return Info{}, err
	}
	s.Install(m, info)
	return info, nil
}

// Prepare opens the artifact at path for a stream running at streamRate
// without installing it. A sample rate mismatch is logged, not rejected.
func Prepare(path string, opts Options, streamRate int) (Model, Info, error) {
	start := time.Now()
	m, info, err := Open(path, opts)
	if err != nil {
		return nil, info, err
	}

	if info.SampleRate != 0 && streamRate != 0 && info.SampleRate != streamRate {
		GetLogger().Warn("model sample rate differs from stream rate",
			logger.String("model", info.Name),
			logger.Int("model_sample_rate", info.SampleRate),
			logger.Int("stream_sample_rate", streamRate))
	}
	GetLogger().Info("model loaded",
		logger.String("model", info.Name),
		logger.String("backend", info.Backend),
		logger.Int("chunk_size", info.ChunkSize),
		logger.Int("sample_rate", info.SampleRate),
		logger.Duration("elapsed", time.Since(start)))
	return m, info, nil
}

// Open builds a model through the backend registered for its extension
// without touching any slot.
func Open(path string, opts Options) (Model, Info, error) {
	meta, err := ParseMetadata(path)
	if err != nil {
		return nil, Info{}, loadError(err, path, meta)
	}
	b, ok := lookupBackend(path)
	if !ok {
		return nil, Info{}, loadError(fmt.Errorf("%w: %q", ErrUnknownBackend, meta.Extension), path, meta)
	}
	m, err := b.open(path, meta, opts)
	if err != nil {
		return nil, Info{}, loadError(err, path, meta)
	}
	return m, Info{Metadata: meta, Backend: b.name, LoadedAt: time.Now()}, nil
}

func loadError(err error, path string, meta Metadata) error {
	return errors.New(fmt.Errorf("%w: %w", ErrLoad, err)).
		Component("model").
		Category(errors.CategoryModelLoad).
		ModelContext(path, meta.SampleRate, meta.ChunkSize).
		Build()
}

// Install swaps m into the slot and closes the previous model after the lock
// is released.
func (s *Slot) Install(m Model, info Info) {
	s.mu.Lock()
	old := s.model
	s.model = m
	s.info = info
	if cap(s.zeros) < info.ChunkSize {
		s.zeros = make([]float32, info.ChunkSize)
	}
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			GetLogger().Warn("failed to close replaced model", logger.Error(err))
		}
	}
}

// Infer runs one inference on window under the slot lock.
func (s *Slot) Infer(window []float32) (Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return Prediction{}, ErrNoModel
	}
	return s.inferLocked(window)
}

func (s *Slot) inferLocked(window []float32) (p Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: backend panic: %v", ErrInference, r)
		}
	}()
	p, err = s.model.Infer(window)
	if err != nil && !errors.Is(err, ErrInference) {
		err = fmt.Errorf("%w: %w", ErrInference, err)
	}
	return p, err
}

// WarmReset feeds n all-zero chunks through the model in one lock hold so
// recurrent state is flushed before live audio resumes.
func (s *Slot) WarmReset(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ErrNoModel
	}
	zeros := s.zeros[:s.info.ChunkSize]
	clear(zeros)
	for range n {
		if _, err := s.inferLocked(zeros); err != nil {
			return err
		}
	}
	return nil
}

// Info returns the installed model description.
func (s *Slot) Info() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.model != nil
}

// ChunkSize returns the installed model's chunk size, or 0 when empty.
func (s *Slot) ChunkSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return 0
	}
	return s.info.ChunkSize
}

// Close releases the installed model.
func (s *Slot) Close() error {
	s.mu.Lock()
	m := s.model
	s.model = nil
	s.info = Info{}
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}
