package capture

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"
	"github.com/tphakala/flac"

	"github.com/tphakala/pitchnet-go/internal/errors"
)

// Format describes decoded audio.
type Format struct {
	SampleRate   int `json:"sampleRate"`
	Channels     int `json:"channels"`
	BitDepth     int `json:"bitDepth"`
	TotalSamples int `json:"totalSamples"` // per channel, 0 if unknown
}

// Decoder yields mono float32 samples at Format().SampleRate.
type Decoder interface {
	Format() Format
	// Read fills dst and returns io.EOF once the stream is exhausted.
	Read(dst []float32) (int, error)
	Close() error
}

// OpenFile opens a WAV or FLAC file by extension.
func OpenFile(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileError(err, path, "open")
	}

	var dec Decoder
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		dec, err = newWAVDecoder(f)
	case ".flac":
		dec, err = newFLACDecoder(f)
	default:
		err = errors.Newf("unsupported audio file type %q", ext).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
	if err != nil {
		_ = f.Close()
		return nil, fileError(err, path, "decode_header")
	}
	return dec, nil
}

func fileError(err error, path, op string) error {
	var fi int64
	if st, statErr := os.Stat(path); statErr == nil {
		fi = st.Size()
	}
	return errors.New(err).
		Component("capture").
		Category(errors.CategoryAudioDecode).
		FileContext(path, fi).
		Context("operation", op).
		Build()
}

const wavHeaderSize = 44

type wavDecoder struct {
	file    *os.File
	dec     *wav.Decoder
	format  Format
	divisor float32
	buf     *audio.IntBuffer
}

func newWAVDecoder(f *os.File) (*wavDecoder, error) {
	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return nil, errors.NewStd("input is not a valid WAV audio file")
	}
	divisor, err := pcmDivisor(int(d.BitDepth))
	if err != nil {
		return nil, err
	}
	if d.NumChans < 1 {
		return nil, errors.NewStd("WAV file declares no channels")
	}

	format := Format{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	// Estimated from the file size assuming a canonical 44 byte header.
	if st, err := f.Stat(); err == nil && st.Size() > wavHeaderSize {
		format.TotalSamples = int(st.Size()-wavHeaderSize) / (format.BitDepth / 8) / format.Channels
	}
	return &wavDecoder{
		file:    f,
		dec:     d,
		format:  format,
		divisor: divisor,
		buf: &audio.IntBuffer{
			Data:   make([]int, 4096*format.Channels),
			Format: &audio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
		},
	}, nil
}

func (w *wavDecoder) Format() Format { return w.format }

func (w *wavDecoder) Read(dst []float32) (int, error) {
	ch := w.format.Channels
	want := min(len(dst)*ch, len(w.buf.Data))
	w.buf.Data = w.buf.Data[:want]
	n, err := w.dec.PCMBuffer(w.buf)
	w.buf.Data = w.buf.Data[:cap(w.buf.Data)]
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	frames := n / ch
	for f := range frames {
		var sum int
		for c := range ch {
			sum += w.buf.Data[f*ch+c]
		}
		dst[f] = float32(sum) / float32(ch) / w.divisor
	}
	return frames, nil
}

func (w *wavDecoder) Close() error { return w.file.Close() }

// flacDecoder stages decoded frames in a byte ring so callers can read
// arbitrary block sizes independent of FLAC frame boundaries.
type flacDecoder struct {
	file      *os.File
	dec       *flac.Decoder
	format    Format
	divisor   float32
	frameSize int // bytes per interleaved frame
	staging   *ringbuffer.RingBuffer
	scratch   []byte
	eof       bool
}

func newFLACDecoder(f *os.File) (*flacDecoder, error) {
	d, err := flac.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	divisor, err := pcmDivisor(d.BitsPerSample)
	if err != nil {
		return nil, err
	}
	if d.NChannels < 1 {
		return nil, errors.NewStd("FLAC stream declares no channels")
	}
	return &flacDecoder{
		file: f,
		dec:  d,
		format: Format{
			SampleRate:   d.SampleRate,
			Channels:     d.NChannels,
			BitDepth:     d.BitsPerSample,
			TotalSamples: int(d.TotalSamples),
		},
		divisor:   divisor,
		frameSize: d.BitsPerSample / 8 * d.NChannels,
		staging:   ringbuffer.New(1 << 18),
	}, nil
}

func (d *flacDecoder) Format() Format { return d.format }

func (d *flacDecoder) fill(want int) error {
	for d.staging.Length() < want && !d.eof {
		frame, err := d.dec.Next()
		if err == io.EOF {
			d.eof = true
			break
		}
		if err != nil {
			return err
		}
		if len(frame) > d.staging.Free() {
			d.grow(len(frame))
		}
		if _, err := d.staging.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

func (d *flacDecoder) grow(extra int) {
	pending := make([]byte, d.staging.Length())
	_, _ = d.staging.Read(pending)
	next := ringbuffer.New(2 * (len(pending) + extra))
	_, _ = next.Write(pending)
	d.staging = next
}

func (d *flacDecoder) Read(dst []float32) (int, error) {
	want := len(dst) * d.frameSize
	if err := d.fill(want); err != nil {
		return 0, err
	}
	avail := d.staging.Length() / d.frameSize * d.frameSize
	if avail == 0 {
		return 0, io.EOF
	}
	n := min(avail, want)
	if cap(d.scratch) < n {
		d.scratch = make([]byte, n)
	}
	raw := d.scratch[:n]
	if _, err := io.ReadFull(d.staging, raw); err != nil {
		return 0, err
	}

	bytesPer := d.format.BitDepth / 8
	ch := d.format.Channels
	frames := n / d.frameSize
	for f := range frames {
		var sum float32
		for c := range ch {
			sum += float32(pcmSample(raw[(f*ch+c)*bytesPer:], d.format.BitDepth))
		}
		dst[f] = sum / float32(ch) / d.divisor
	}
	return frames, nil
}

func pcmSample(b []byte, bitDepth int) int32 {
	switch bitDepth {
	case 8:
		return int32(int8(b[0]))
	case 16:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xffffff
		}
		return v
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}

func (d *flacDecoder) Close() error { return d.file.Close() }
