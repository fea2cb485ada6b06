package inference

import (
	"math"
	"sync/atomic"

	"github.com/tphakala/pitchnet-go/internal/model"
)

// GatedPitch replaces the pitch of results that fail a threshold.
const GatedPitch float32 = -1500

// Thresholds holds the confidence and amplitude gates. Zero disables a gate.
// Values are read atomically on every inference.
type Thresholds struct {
	confidence atomic.Uint32
	amplitude  atomic.Uint32
}

// SetConfidence stores x clamped to [0,1]. NaN disables the gate.
func (t *Thresholds) SetConfidence(x float32) float32 {
	x = sanitize(x)
	x = min(x, 1)
	t.confidence.Store(math.Float32bits(x))
	return x
}

// SetAmplitude stores x clamped to [0,+Inf). NaN disables the gate.
func (t *Thresholds) SetAmplitude(x float32) float32 {
	x = sanitize(x)
	t.amplitude.Store(math.Float32bits(x))
	return x
}

// Confidence returns the confidence threshold.
func (t *Thresholds) Confidence() float32 {
	return math.Float32frombits(t.confidence.Load())
}

// Amplitude returns the amplitude threshold.
func (t *Thresholds) Amplitude() float32 {
	return math.Float32frombits(t.amplitude.Load())
}

// Apply returns the pitch to emit for p and whether it was gated. A value
// strictly below an enabled threshold gates the result.
func (t *Thresholds) Apply(p model.Prediction) (float32, bool) {
	ct, at := t.Confidence(), t.Amplitude()
	if (ct > 0 && p.Confidence < ct) || (at > 0 && p.Amplitude < at) {
		return GatedPitch, true
	}
	return p.Pitch, false
}

func sanitize(x float32) float32 {
	if x != x || x < 0 {
		return 0
	}
	return x
}
