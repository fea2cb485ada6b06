package capture

import (
	"io"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/tphakala/pitchnet-go/internal/errors"
)

// resampledDecoder converts a decoder's output to another sample rate.
type resampledDecoder struct {
	src     Decoder
	format  Format
	rs      resampling.Resampler
	in      []float32
	in64    []float64
	pending []float64
	flushed bool
}

// Resample wraps src so it yields samples at rate. It returns src unchanged
// when the rates already match.
func Resample(src Decoder, rate int) (Decoder, error) {
	sf := src.Format()
	if sf.SampleRate == rate {
		return src, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(sf.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryAudioDecode).
			Context("input_rate", sf.SampleRate).
			Context("output_rate", rate).
			Build()
	}
	format := sf
	format.SampleRate = rate
	if sf.TotalSamples > 0 {
		format.TotalSamples = int(int64(sf.TotalSamples) * int64(rate) / int64(sf.SampleRate))
	}
	return &resampledDecoder{src: src, format: format, rs: rs, in: make([]float32, 4096)}, nil
}

func (r *resampledDecoder) Format() Format { return r.format }

func (r *resampledDecoder) Read(dst []float32) (int, error) {
	for len(r.pending) == 0 {
		if r.flushed {
			return 0, io.EOF
		}
		n, err := r.src.Read(r.in)
		if n > 0 {
			r.in64 = r.in64[:0]
			for _, s := range r.in[:n] {
				r.in64 = append(r.in64, float64(s))
			}
			out, perr := r.rs.Process(r.in64)
			if perr != nil {
				return 0, perr
			}
			r.pending = append(r.pending, out...)
		}
		if err == io.EOF {
			tail, ferr := r.rs.Flush()
			if ferr != nil {
				return 0, ferr
			}
			r.pending = append(r.pending, tail...)
			r.flushed = true
		} else if err != nil {
			return 0, err
		}
	}

	n := min(len(dst), len(r.pending))
	for i := range n {
		dst[i] = float32(r.pending[i])
	}
	r.pending = r.pending[n:]
	return n, nil
}

func (r *resampledDecoder) Close() error { return r.src.Close() }
