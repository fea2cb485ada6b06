// Package inference runs pitch inference off the audio thread. The Worker
// drains fixed-size chunks from the sample ring whenever the Gate signals,
// runs them through the model and emits one Result per chunk.
package inference

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/model"
)

// DefaultWaitTimeout bounds how long the worker sleeps between liveness checks.
const DefaultWaitTimeout = 100 * time.Millisecond

// State is the worker's position in its cycle.
type State int32

const (
	StateIdle State = iota
	StateWaitingForData
	StateInferring
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForData:
		return "waiting"
	case StateInferring:
		return "inferring"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source is the consumer side of the sample ring.
type Source interface {
	Available() int
	Get(dst []float32) bool
	Overruns() uint64
}

// Inferer runs one inference call. *model.Slot implements it.
type Inferer interface {
	Infer(window []float32) (model.Prediction, error)
}

// Config wires a Worker.
type Config struct {
	Gate        *Gate
	Source      Source
	Model       Inferer
	Thresholds  *Thresholds
	Emitter     Emitter
	Recorder    Recorder
	SessionID   string
	ChunkSize   int
	WaitTimeout time.Duration
	// ModelName is reported in results; it can be changed with SetModelName.
	ModelName string
}

// Worker is the single consumer of the sample ring.
type Worker struct {
	gate       *Gate
	source     Source
	model      Inferer
	thresholds *Thresholds
	emitter    Emitter
	recorder   Recorder
	sessionID  string
	timeout    time.Duration

	chunkSize atomic.Int64
	modelName atomic.Pointer[string]
	state     atomic.Int32
	probe     atomic.Bool
	sequence  atomic.Uint64

	// guards the idle and inference paths against controller reconfiguration
	quiesce sync.Mutex

	window       []float32
	lastOverruns uint64
	overrunLog   *rate.Limiter

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	log       logger.Logger
}

// NewWorker validates cfg and returns an unstarted worker.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Gate == nil || cfg.Source == nil || cfg.Model == nil || cfg.Emitter == nil {
		return nil, errors.Newf("inference worker requires gate, source, model and emitter").
			Component("inference").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = &Thresholds{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = model.DefaultChunkSize
	}

	w := &Worker{
		gate:       cfg.Gate,
		source:     cfg.Source,
		model:      cfg.Model,
		thresholds: cfg.Thresholds,
		emitter:    cfg.Emitter,
		recorder:   cfg.Recorder,
		sessionID:  cfg.SessionID,
		timeout:    cfg.WaitTimeout,
		window:     make([]float32, cfg.ChunkSize),
		overrunLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
		done:       make(chan struct{}),
		log:        GetLogger().With(logger.String("session", cfg.SessionID)),
	}
	w.chunkSize.Store(int64(cfg.ChunkSize))
	w.SetModelName(cfg.ModelName)
	w.lastOverruns = cfg.Source.Overruns()
	return w, nil
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Stop signals the worker and waits for it to exit. Safe to call more than
// once and before Start.
func (w *Worker) Stop() {
	w.stopOnce.Do(w.gate.Stop)
	started := true
	w.startOnce.Do(func() {
		started = false
		w.state.Store(int32(StateStopped))
		close(w.done)
	})
	if started {
		<-w.done
	}
}

// State returns the current worker state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// ChunkSize returns the window size consumed per inference.
func (w *Worker) ChunkSize() int {
	return int(w.chunkSize.Load())
}

// SetChunkSize changes the window size. Callers hold the gate permit and the
// worker's quiesce lock (see Pause).
func (w *Worker) SetChunkSize(n int) {
	w.chunkSize.Store(int64(n))
}

// SetModelName changes the model name reported in results.
func (w *Worker) SetModelName(name string) {
	w.modelName.Store(&name)
}

// Pause blocks until the worker is outside its idle and inference paths and
// keeps it there until the returned function is called. Callers must
// acquire the gate permit first.
func (w *Worker) Pause() (resume func()) {
	w.quiesce.Lock()
	return w.quiesce.Unlock
}

// RequestProbe asks for one inference on an all-ones window and wakes the
// worker if it is idle. The probe runs on the next cycle otherwise.
func (w *Worker) RequestProbe() bool {
	w.probe.Store(true)
	return w.gate.TryTrigger()
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))

	w.log.Debug("inference worker started",
		logger.Int("chunk_size", w.ChunkSize()),
		logger.Duration("wait_timeout", w.timeout))

	for {
		w.state.Store(int32(StateWaitingForData))
		switch w.gate.Wait(w.timeout) {
		case WaitStopped:
			w.log.Debug("inference worker stopped")
			return
		case WaitTimedOut:
			w.idle()
			continue
		case WaitReady:
		}

		w.quiesce.Lock()
		w.cycle()
		w.state.Store(int32(StateIdle))
		w.gate.Release()
		w.reportOverruns()
		w.retrigger()
		w.quiesce.Unlock()
	}
}

// cycle consumes at most one chunk while the gate permit is held.
func (w *Worker) cycle() {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("inference cycle panicked", logger.Any("panic", r))
		}
	}()

	n := w.ChunkSize()
	if cap(w.window) < n {
		w.window = make([]float32, n)
	}
	window := w.window[:n]

	if w.probe.CompareAndSwap(true, false) {
		for i := range window {
			window[i] = 1
		}
		w.infer(window, true)
		return
	}

	// Another trigger may have been consumed by a cycle that already drained
	// the data; too little data is not an error.
	if w.source.Available() < n || !w.source.Get(window) {
		return
	}
	w.infer(window, false)
}

func (w *Worker) infer(window []float32, probe bool) {
	w.state.Store(int32(StateInferring))
	start := time.Now()
	pred, err := w.model.Infer(window)
	elapsed := time.Since(start)
	w.recorder.ObserveInference(elapsed, err)

	if err != nil {
		w.log.Warn("inference failed, skipping chunk",
			logger.Int("chunk_size", len(window)),
			logger.Bool("probe", probe),
			logger.Error(err))
		return
	}

	pitch, gated := w.thresholds.Apply(pred)
	if gated {
		w.recorder.ObserveGated()
	}

	w.emitter.Emit(Result{
		Sequence:   w.sequence.Add(1),
		SessionID:  w.sessionID,
		Timestamp:  start,
		Model:      *w.modelName.Load(),
		ChunkSize:  len(window),
		Pitch:      pitch,
		RawPitch:   pred.Pitch,
		Confidence: pred.Confidence,
		Amplitude:  pred.Amplitude,
		Gated:      gated,
		Probe:      probe,
		Latency:    elapsed,
	})
}

// retrigger recovers triggers the producer dropped while a cycle ran.
func (w *Worker) retrigger() {
	if w.gate.Stopped() {
		return
	}
	if w.probe.Load() || w.source.Available() >= w.ChunkSize() {
		w.gate.TryTrigger()
	}
}

// idle runs on wait timeouts.
func (w *Worker) idle() {
	w.quiesce.Lock()
	defer w.quiesce.Unlock()
	w.state.Store(int32(StateIdle))
	w.reportOverruns()
	w.retrigger()
}

func (w *Worker) reportOverruns() {
	if ov := w.source.Overruns(); ov != w.lastOverruns {
		delta := ov - w.lastOverruns
		w.lastOverruns = ov
		if w.overrunLog.Allow() {
			w.log.Warn("sample ring overrun, inference is slower than audio arrival",
				logger.Uint64("dropped_samples", delta),
				logger.Uint64("total_overruns", ov))
		}
	}
}
