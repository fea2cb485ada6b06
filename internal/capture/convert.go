package capture

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// SampleSize returns the bytes per sample of a malgo capture format.
func SampleSize(format malgo.FormatType) (int, error) {
	switch format {
	case malgo.FormatU8:
		return 1, nil
	case malgo.FormatS16:
		return 2, nil
	case malgo.FormatS24:
		return 3, nil
	case malgo.FormatS32, malgo.FormatF32:
		return 4, nil
	default:
		return 0, fmt.Errorf("unsupported sample format: %v", format)
	}
}

// ConvertToFloat32 decodes interleaved little-endian samples into mono
// float32 in [-1,1], averaging channels. dst is reused when large enough;
// the returned slice aliases it.
func ConvertToFloat32(samples []byte, format malgo.FormatType, channels int, dst []float32) ([]float32, error) {
	size, err := SampleSize(format)
	if err != nil {
		return nil, err
	}
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / (size * channels)
	if cap(dst) < frames {
		dst = make([]float32, frames)
	}
	dst = dst[:frames]

	inv := 1 / float32(channels)
	for f := range frames {
		var sum float32
		base := f * size * channels
		for c := range channels {
			sum += decodeSample(samples[base+c*size:], format)
		}
		dst[f] = sum * inv
	}
	return dst, nil
}

func decodeSample(b []byte, format malgo.FormatType) float32 {
	switch format {
	case malgo.FormatU8:
		return (float32(b[0]) - 128) / 128
	case malgo.FormatS16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case malgo.FormatS24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xffffff
		}
		return float32(v) / 8388608
	case malgo.FormatS32:
		return float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
	case malgo.FormatF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
	return 0
}

// pcmDivisor returns the full-scale value for integer PCM of bitDepth.
func pcmDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 8:
		return 128, nil
	case 16:
		return 32768, nil
	case 24:
		return 8388608, nil
	case 32:
		return 2147483648, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// applyGain scales buf in place and clips to [-1,1].
func applyGain(buf []float32, gain float32) {
	for i, s := range buf {
		s *= gain
		buf[i] = max(-1, min(1, s))
	}
}
