// Package autocorr is a pure-Go pitch model backend. An ".acf" artifact is a
// small YAML descriptor; the estimator itself is a normalized
// autocorrelation search, so no native inference runtime is needed.
package autocorr

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/pitchnet-go/internal/model"
)

// Extension is the file extension handled by this backend.
const Extension = "acf"

const (
	defaultSampleRate   = 48000
	defaultMinFrequency = 50.0
	defaultMaxFrequency = 2000.0
	defaultSilenceRMS   = 1e-4
	peakRatio           = 0.9
)

func init() {
	model.Register("autocorr", Extension, Open)
}

// Descriptor is the YAML content of an .acf file. Zero values fall back to
// defaults; a sample rate in the file name overrides SampleRate.
type Descriptor struct {
	SampleRate   int     `yaml:"sample_rate"`
	MinFrequency float64 `yaml:"min_frequency"`
	MaxFrequency float64 `yaml:"max_frequency"`
	SilenceRMS   float64 `yaml:"silence_rms"`
}

// Estimator implements model.Model.
type Estimator struct {
	sampleRate float64
	minLag     int
	maxLag     int
	silence    float64
}

// Open reads the descriptor at path.
func Open(path string, meta model.Metadata, _ model.Options) (model.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	if meta.SampleRate > 0 {
		d.SampleRate = meta.SampleRate
	}
	return New(d, meta.ChunkSize)
}

// New builds an estimator for windows of chunkSize samples.
func New(d Descriptor, chunkSize int) (*Estimator, error) {
	if d.SampleRate <= 0 {
		d.SampleRate = defaultSampleRate
	}
	if d.MinFrequency <= 0 {
		d.MinFrequency = defaultMinFrequency
	}
	if d.MaxFrequency <= 0 {
		d.MaxFrequency = defaultMaxFrequency
	}
	if d.SilenceRMS <= 0 {
		d.SilenceRMS = defaultSilenceRMS
	}
	if d.MinFrequency >= d.MaxFrequency {
		return nil, fmt.Errorf("min_frequency %.1f must be below max_frequency %.1f", d.MinFrequency, d.MaxFrequency)
	}
	if chunkSize < 4 {
		return nil, fmt.Errorf("chunk size %d too small", chunkSize)
	}

	sr := float64(d.SampleRate)
	minLag := max(2, int(math.Floor(sr/d.MaxFrequency)))
	maxLag := min(chunkSize/2, int(math.Ceil(sr/d.MinFrequency)))
	if minLag >= maxLag {
		return nil, fmt.Errorf("chunk size %d cannot resolve %.1f-%.1f Hz at %d Hz",
			chunkSize, d.MinFrequency, d.MaxFrequency, d.SampleRate)
	}
	return &Estimator{
		sampleRate: sr,
		minLag:     minLag,
		maxLag:     maxLag,
		silence:    d.SilenceRMS,
	}, nil
}

// Infer estimates the pitch of window as a MIDI note number. Confidence is
// the normalized autocorrelation peak, amplitude the window RMS.
func (e *Estimator) Infer(window []float32) (model.Prediction, error) {
	n := len(window)
	if n < 2*e.maxLag {
		return model.Prediction{}, fmt.Errorf("window of %d samples shorter than %d", n, 2*e.maxLag)
	}

	var energy float64
	for _, v := range window {
		energy += float64(v) * float64(v)
	}
	rms := math.Sqrt(energy / float64(n))
	if rms < e.silence {
		return model.Prediction{Amplitude: float32(rms)}, nil
	}

	// The first local maximum within peakRatio of the highest one is taken as
	// the period, which keeps sub-harmonics from winning on near ties.
	highest := 0.0
	e.eachPeak(window, func(_ int, v float64) bool {
		highest = max(highest, v)
		return true
	})
	if highest <= 0 {
		return model.Prediction{Amplitude: float32(rms)}, nil
	}
	bestLag, bestVal := -1, 0.0
	e.eachPeak(window, func(lag int, v float64) bool {
		if v >= peakRatio*highest {
			bestLag, bestVal = lag, v
			return false
		}
		return true
	})
	if bestLag < 0 {
		return model.Prediction{Amplitude: float32(rms)}, nil
	}

	// parabolic interpolation around the peak
	a := e.nsdf(window, bestLag-1)
	b := bestVal
	c := e.nsdf(window, bestLag+1)
	shift := 0.0
	if denom := a - 2*b + c; denom != 0 {
		shift = 0.5 * (a - c) / denom
	}
	freq := e.sampleRate / (float64(bestLag) + shift)

	return model.Prediction{
		Pitch:      float32(69 + 12*math.Log2(freq/440)),
		Confidence: float32(min(1, max(0, bestVal))),
		Amplitude:  float32(rms),
	}, nil
}

// eachPeak calls fn for every local maximum of the NSDF in the lag range
// until fn returns false.
func (e *Estimator) eachPeak(window []float32, fn func(lag int, v float64) bool) {
	prev, cur := e.nsdf(window, e.minLag-1), e.nsdf(window, e.minLag)
	for lag := e.minLag; lag < e.maxLag; lag++ {
		next := e.nsdf(window, lag+1)
		if cur > prev && cur >= next && cur > 0 {
			if !fn(lag, cur) {
				return
			}
		}
		prev, cur = cur, next
	}
}

// nsdf is the normalized square difference function at lag.
func (e *Estimator) nsdf(window []float32, lag int) float64 {
	span := len(window) - lag
	var r, m float64
	for i := range span {
		x, y := float64(window[i]), float64(window[i+lag])
		r += x * y
		m += x*x + y*y
	}
	if m == 0 {
		return 0
	}
	return 2 * r / m
}

// Close is a no-op.
func (e *Estimator) Close() error { return nil }
