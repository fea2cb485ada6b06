// Package stream wires the audio callback, the sample ring, the inference
// worker and the model slot together, and is the only place that changes
// their configuration at runtime.
package stream

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/model"
	"github.com/tphakala/pitchnet-go/internal/ringbuffer"
)

const (
	// DefaultMinBufferSize is the floor for the ring capacity.
	DefaultMinBufferSize = 4096
	// DefaultQuiesceTimeout bounds reconfiguration when the caller's context
	// carries no deadline.
	DefaultQuiesceTimeout = 5 * time.Second
	// DefaultSampleRate is used when the host does not report one.
	DefaultSampleRate = 48000
)

// Observer receives controller lifecycle events, typically metrics.
type Observer interface {
	ObserveModelLoad(info model.Info, err error)
	ObserveReconfigure(chunkSize, ringCapacity int)
	ObserveWarmReset()
}

type noopObserver struct{}

func (noopObserver) ObserveModelLoad(model.Info, error) {}

func (noopObserver) ObserveReconfigure(int, int) {}

func (noopObserver) ObserveWarmReset() {}

// Config configures a Controller.
type Config struct {
	SampleRate      int
	ChunkSize       int // preferred chunk size, 0 selects automatically
	MinBufferSize   int
	WaitTimeout     time.Duration
	WarmResetChunks int
	ModelPath       string
	ModelDir        string
	ModelOptions    model.Options
	Catalog         *model.Catalog
	Emitter         inference.Emitter
	Recorder        inference.Recorder
	Observer        Observer
	SessionID       string
}

// Status is a point-in-time snapshot of the stream.
type Status struct {
	SessionID           string     `json:"sessionId"`
	WorkerState         string     `json:"workerState"`
	Model               model.Info `json:"model"`
	ModelLoaded         bool       `json:"modelLoaded"`
	SampleRate          int        `json:"sampleRate"`
	ChunkSize           int        `json:"chunkSize"`
	RingCapacity        int        `json:"ringCapacity"`
	AvailableSamples    int        `json:"availableSamples"`
	Overruns            uint64     `json:"overruns"`
	DroppedTriggers     uint64     `json:"droppedTriggers"`
	ProcessedSamples    uint64     `json:"processedSamples"`
	Accepting           bool       `json:"accepting"`
	DSPActive           bool       `json:"dspActive"`
	ConfidenceThreshold float32    `json:"confidenceThreshold"`
	AmplitudeThreshold  float32    `json:"amplitudeThreshold"`
}

// Controller owns the ring, gate, worker and model slot of one stream.
type Controller struct {
	cfg        Config
	ring       *ringbuffer.RingBuffer
	gate       *inference.Gate
	slot       *model.Slot
	worker     *inference.Worker
	thresholds *inference.Thresholds
	catalog    *model.Catalog
	observer   Observer

	// read on the audio thread
	chunkSize atomic.Int64
	accepting atomic.Bool
	inFlight  atomic.Int32
	processed atomic.Uint64

	active  atomic.Bool
	running atomic.Bool

	// serializes control operations
	mu      sync.Mutex
	started bool
	closed  bool

	// chunk size preference for fallback selection, 0 = automatic
	preferredChunk int

	log logger.Logger
}

// New validates cfg and builds an unstarted controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Emitter == nil {
		return nil, errors.Newf("stream controller requires an emitter").
			Component("stream").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.MinBufferSize <= 0 {
		cfg.MinBufferSize = DefaultMinBufferSize
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = inference.DefaultWaitTimeout
	}
	if cfg.WarmResetChunks <= 0 {
		cfg.WarmResetChunks = model.DefaultWarmResetChunks
	}
	if cfg.Catalog == nil {
		cfg.Catalog = model.NewCatalog(model.DefaultDiscoveryTTL)
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	initialChunk := cfg.ChunkSize
	if initialChunk <= 0 {
		initialChunk = model.DefaultChunkSize
	}

	c := &Controller{
		cfg:        cfg,
		ring:       ringbuffer.New(max(initialChunk, cfg.MinBufferSize)),
		gate:       inference.NewGate(),
		slot:       model.NewSlot(cfg.ModelOptions),
		thresholds: &inference.Thresholds{},
		catalog:    cfg.Catalog,
		observer:   cfg.Observer,
		log:        GetLogger().With(logger.String("session", cfg.SessionID)),

		preferredChunk: max(cfg.ChunkSize, 0),
	}
	c.chunkSize.Store(int64(initialChunk))

	w, err := inference.NewWorker(inference.Config{
		Gate:        c.gate,
		Source:      c.ring,
		Model:       c.slot,
		Thresholds:  c.thresholds,
		Emitter:     cfg.Emitter,
		Recorder:    cfg.Recorder,
		SessionID:   cfg.SessionID,
		ChunkSize:   initialChunk,
		WaitTimeout: cfg.WaitTimeout,
	})
	if err != nil {
		return nil, err
	}
	c.worker = w
	return c, nil
}

// Start loads the initial model, starts the worker and begins accepting
// audio. The configured model path wins; otherwise the best compatible model
// in the model directory is used.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed()
	}
	if c.started {
		return nil
	}

	var (
		m    model.Model
		info model.Info
		err  error
	)
	if c.cfg.ModelPath != "" {
		m, info, err = c.openWithFallback(c.cfg.ModelPath)
	} else {
		m, info, err = c.openBest(c.cfg.ChunkSize, "")
	}
	if err != nil {
		return err
	}
	if err := c.swap(ctx, m, info); err != nil {
		return err
	}

	c.worker.Start()
	c.started = true
	c.running.Store(true)
	c.active.Store(true)
	c.accepting.Store(true)
	c.log.Info("stream started",
		logger.String("model", info.Name),
		logger.Int("sample_rate", c.cfg.SampleRate),
		logger.Int("chunk_size", info.ChunkSize),
		logger.Int("ring_capacity", c.ring.Capacity()))
	return nil
}

// Process is called from the audio callback with one host block. It never
// blocks, allocates or logs.
func (c *Controller) Process(block []float32) {
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	if !c.accepting.Load() {
		return
	}
	for _, s := range block {
		c.ring.Put(s)
	}
	c.processed.Add(uint64(len(block)))
	if c.ring.Available() >= int(c.chunkSize.Load()) {
		c.gate.TryTrigger()
	}
}

// SetModel loads the model at path and swaps it in. If it cannot be loaded
// the best compatible model from the model directory is tried instead; when
// that fails too the active model is kept and the load error returned.
func (c *Controller) SetModel(ctx context.Context, path string) (model.Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.Info{}, errClosed()
	}

	m, info, err := c.openWithFallback(path)
	if err != nil {
		return model.Info{}, err
	}
	if err := c.swap(ctx, m, info); err != nil {
		return model.Info{}, err
	}
	return info, nil
}

// SetChunkSize switches to a model with exactly n samples per chunk for the
// stream's sample rate. The configuration is unchanged on error.
func (c *Controller) SetChunkSize(ctx context.Context, n int) (model.Info, error) {
	if n <= 0 {
		return model.Info{}, errors.Newf("chunk size must be positive, got %d", n).
			Component("stream").
			Category(errors.CategoryValidation).
			Build()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.Info{}, errClosed()
	}
	if current, ok := c.slot.Info(); ok && current.ChunkSize == n {
		return current, nil
	}

	m, info, err := c.openBest(n, "")
	if err != nil {
		return model.Info{}, err
	}
	if err := c.swap(ctx, m, info); err != nil {
		return model.Info{}, err
	}
	c.preferredChunk = n
	return info, nil
}

// SetConfidenceThreshold sets the confidence gate, clamped to [0,1].
func (c *Controller) SetConfidenceThreshold(x float32) float32 {
	v := c.thresholds.SetConfidence(x)
	c.log.Debug("confidence threshold changed", logger.Float32("threshold", v))
	return v
}

// SetAmplitudeThreshold sets the amplitude gate, clamped to [0,+Inf).
func (c *Controller) SetAmplitudeThreshold(x float32) float32 {
	v := c.thresholds.SetAmplitude(x)
	c.log.Debug("amplitude threshold changed", logger.Float32("threshold", v))
	return v
}

// Reset discards buffered audio and flushes model state with zero chunks.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed()
	}
	resume, err := c.quiesce(ctx)
	if err != nil {
		return err
	}
	defer resume()
	return c.warmReset()
}

// SetDSPActive starts or stops accepting audio. Deactivation also clears the
// ring and warm-resets the model.
func (c *Controller) SetDSPActive(ctx context.Context, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed()
	}

	if active {
		c.active.Store(true)
		if c.started {
			c.accepting.Store(true)
		}
		c.log.Info("dsp activated")
		return nil
	}

	c.active.Store(false)
	resume, err := c.quiesce(ctx)
	if err != nil {
		return err
	}
	defer resume()
	c.log.Info("dsp deactivated")
	if _, loaded := c.slot.Info(); !loaded {
		return nil
	}
	return c.warmReset()
}

// ForceInference wakes the worker when a full chunk is buffered; otherwise it
// requests a probe inference on an all-ones chunk. It reports whether the
// worker was signalled; a refused probe still runs after the current cycle.
// Before Start and after Close it does nothing.
func (c *Controller) ForceInference() bool {
	if !c.running.Load() {
		return false
	}
	if c.ring.Available() >= int(c.chunkSize.Load()) {
		return c.gate.TryTrigger()
	}
	return c.worker.RequestProbe()
}

// Drain waits until less than one chunk is buffered and no inference is
// pending or running. File replay uses it to pace input to the worker.
func (c *Controller) Drain(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if c.ring.Available() < int(c.chunkSize.Load()) && !c.gate.Held() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status returns a snapshot of the stream.
func (c *Controller) Status() Status {
	info, loaded := c.slot.Info()
	return Status{
		SessionID:           c.cfg.SessionID,
		WorkerState:         c.worker.State().String(),
		Model:               info,
		ModelLoaded:         loaded,
		SampleRate:          c.cfg.SampleRate,
		ChunkSize:           int(c.chunkSize.Load()),
		RingCapacity:        c.ring.Capacity(),
		AvailableSamples:    c.ring.Available(),
		Overruns:            c.ring.Overruns(),
		DroppedTriggers:     c.gate.DroppedTriggers(),
		ProcessedSamples:    c.processed.Load(),
		Accepting:           c.accepting.Load(),
		DSPActive:           c.active.Load(),
		ConfidenceThreshold: c.thresholds.Confidence(),
		AmplitudeThreshold:  c.thresholds.Amplitude(),
	}
}

// SessionID identifies this stream in results and logs.
func (c *Controller) SessionID() string { return c.cfg.SessionID }

// SampleRate is the stream's sample rate.
func (c *Controller) SampleRate() int { return c.cfg.SampleRate }

// Overruns returns the total number of samples discarded by the ring.
func (c *Controller) Overruns() uint64 { return c.ring.Overruns() }

// Available returns the number of buffered samples.
func (c *Controller) Available() int { return c.ring.Available() }

// DroppedTriggers returns the number of refused inference triggers.
func (c *Controller) DroppedTriggers() uint64 { return c.gate.DroppedTriggers() }

// Models lists the candidates in the configured model directory.
func (c *Controller) Models() ([]model.Metadata, error) {
	if c.cfg.ModelDir == "" {
		return nil, nil
	}
	return c.catalog.Discover(c.cfg.ModelDir)
}

// Close stops accepting audio, joins the worker and releases the model.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.running.Store(false)
	c.active.Store(false)
	c.accepting.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.waitProducer(ctx); err != nil {
		c.log.Warn("audio callback still running during close", logger.Error(err))
	}
	c.worker.Stop()
	if err := c.slot.Close(); err != nil {
		return errors.New(err).
			Component("stream").
			Category(errors.CategoryModelInit).
			Context("operation", "close_model").
			Build()
	}
	c.log.Info("stream closed",
		logger.Uint64("processed_samples", c.processed.Load()),
		logger.Uint64("overruns", c.ring.Overruns()))
	return nil
}

// openWithFallback opens path, falling back to the best compatible model in
// the model directory.
func (c *Controller) openWithFallback(path string) (model.Model, model.Info, error) {
	m, info, err := model.Prepare(path, c.cfg.ModelOptions, c.cfg.SampleRate)
	c.observer.ObserveModelLoad(info, err)
	if err == nil {
		return m, info, nil
	}

	c.log.Warn("model load failed, trying best compatible model",
		logger.String("model", path),
		logger.Error(err))
	fm, finfo, ferr := c.openBest(c.preferredChunk, path)
	if ferr != nil {
		return nil, model.Info{}, errors.Join(err, ferr)
	}
	c.log.Warn("using fallback model",
		logger.String("requested", path),
		logger.String("model", finfo.Name))
	return fm, finfo, nil
}

// openBest opens the best candidate in the model directory for chunkSize
// (0 = automatic), skipping exclude.
func (c *Controller) openBest(chunkSize int, exclude string) (model.Model, model.Info, error) {
	if c.cfg.ModelDir == "" {
		return nil, model.Info{}, errors.New(model.ErrNoCandidate).
			Component("stream").
			Category(errors.CategoryConfiguration).
			Context("reason", "model directory not configured").
			Build()
	}
	// a fresh listing picks up models copied in since the last lookup
	c.catalog.Invalidate(c.cfg.ModelDir)
	candidates, err := c.catalog.Discover(c.cfg.ModelDir)
	if err != nil {
		return nil, model.Info{}, err
	}

	var lastErr error
	for len(candidates) > 0 {
		best, err := model.SelectBest(candidates, c.cfg.SampleRate, chunkSize)
		if err != nil {
			return nil, model.Info{}, errors.Join(lastErr, err)
		}
		candidates = removeCandidate(candidates, best.Path)
		if best.Path == exclude {
			continue
		}
		m, info, err := model.Prepare(best.Path, c.cfg.ModelOptions, c.cfg.SampleRate)
		c.observer.ObserveModelLoad(info, err)
		if err != nil {
			c.log.Warn("candidate model failed to load",
				logger.String("model", best.Name),
				logger.Error(err))
			lastErr = err
			continue
		}
		return m, info, nil
	}
	if lastErr != nil {
		return nil, model.Info{}, lastErr
	}
	return nil, model.Info{}, errors.New(model.ErrNoCandidate).
		Component("stream").
		Category(errors.CategoryNotFound).
		Context("sample_rate", c.cfg.SampleRate).
		Context("chunk_size", chunkSize).
		Build()
}

func removeCandidate(list []model.Metadata, path string) []model.Metadata {
	out := list[:0:0]
	for _, m := range list {
		if m.Path != path {
			out = append(out, m)
		}
	}
	return out
}

// swap installs an opened model together with its chunk size. Stale samples
// are discarded; the ring is resized to max(chunk, MinBufferSize).
func (c *Controller) swap(ctx context.Context, m model.Model, info model.Info) error {
	resume, err := c.quiesce(ctx)
	if err != nil {
		if cerr := m.Close(); cerr != nil {
			c.log.Warn("failed to close unused model", logger.Error(cerr))
		}
		return err
	}
	defer resume()

	previous, _ := c.slot.Info()
	c.slot.Install(m, info)
	c.ring.Resize(max(info.ChunkSize, c.cfg.MinBufferSize))
	c.chunkSize.Store(int64(info.ChunkSize))
	c.worker.SetChunkSize(info.ChunkSize)
	c.worker.SetModelName(info.Name)
	c.observer.ObserveReconfigure(info.ChunkSize, c.ring.Capacity())

	c.log.Info("model swapped",
		logger.String("previous", previous.Name),
		logger.String("model", info.Name),
		logger.Int("chunk_size", info.ChunkSize),
		logger.Int("ring_capacity", c.ring.Capacity()))
	return nil
}

// quiesce stops the producer and the worker and clears the ring. The
// returned function undoes it. Callers hold c.mu.
func (c *Controller) quiesce(ctx context.Context) (func(), error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultQuiesceTimeout)
		defer cancel()
	}

	c.accepting.Store(false)
	reenable := func() {
		if c.active.Load() && c.started {
			c.accepting.Store(true)
		}
	}

	if err := c.waitProducer(ctx); err != nil {
		reenable()
		return nil, c.timeoutError("wait_for_audio_callback", err)
	}
	if err := c.gate.Acquire(ctx); err != nil {
		reenable()
		return nil, c.timeoutError("wait_for_inference", err)
	}
	resumeWorker := c.worker.Pause()
	c.ring.Clear()

	return func() {
		resumeWorker()
		c.gate.Release()
		reenable()
	}, nil
}

// waitProducer spins until no Process call is in flight.
func (c *Controller) waitProducer(ctx context.Context) error {
	for c.inFlight.Load() != 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

func (c *Controller) warmReset() error {
	if err := c.slot.WarmReset(c.cfg.WarmResetChunks); err != nil {
		return errors.New(err).
			Component("stream").
			Category(errors.CategoryAudioAnalysis).
			Context("operation", "warm_reset").
			Build()
	}
	c.observer.ObserveWarmReset()
	c.log.Debug("model warm reset", logger.Int("chunks", c.cfg.WarmResetChunks))
	return nil
}

func (c *Controller) timeoutError(op string, err error) error {
	return errors.New(fmt.Errorf("reconfiguration aborted: %w", err)).
		Component("stream").
		Category(errors.CategoryTimeout).
		Context("operation", op).
		Build()
}

func errClosed() error {
	return errors.Newf("stream controller is closed").
		Component("stream").
		Category(errors.CategoryState).
		Build()
}
