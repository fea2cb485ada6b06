package inference

import "time"

// Result is one completed inference. Emitters receive it by value and own it.
type Result struct {
	Sequence   uint64        `json:"sequence" msgpack:"sequence"`
	SessionID  string        `json:"sessionId" msgpack:"session_id"`
	Timestamp  time.Time     `json:"timestamp" msgpack:"timestamp"`
	Model      string        `json:"model" msgpack:"model"`
	ChunkSize  int           `json:"chunkSize" msgpack:"chunk_size"`
	Pitch      float32       `json:"pitch" msgpack:"pitch"`
	RawPitch   float32       `json:"rawPitch" msgpack:"raw_pitch"`
	Confidence float32       `json:"confidence" msgpack:"confidence"`
	Amplitude  float32       `json:"amplitude" msgpack:"amplitude"`
	Gated      bool          `json:"gated" msgpack:"gated"`
	Probe      bool          `json:"probe,omitempty" msgpack:"probe,omitempty"`
	Latency    time.Duration `json:"latencyNs" msgpack:"latency_ns"`
}

// Emitter receives results from the worker. Emit must not block.
type Emitter interface {
	Emit(Result)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Result)

// Emit calls f(r).
func (f EmitterFunc) Emit(r Result) { f(r) }

// Recorder receives per-cycle measurements. Implementations must be safe for
// use from the worker goroutine.
type Recorder interface {
	ObserveInference(elapsed time.Duration, err error)
	ObserveGated()
}

type noopRecorder struct{}

func (noopRecorder) ObserveInference(time.Duration, error) {}

func (noopRecorder) ObserveGated() {}
