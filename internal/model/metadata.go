package model

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// Metadata is what a model artifact declares through its file name.
type Metadata struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	SampleRate int    `json:"sampleRate"` // 0 when the name does not declare one
	ChunkSize  int    `json:"chunkSize"`
	Extension  string `json:"extension"`
}

var (
	// pesto_sr48k_h512.tflite, model-sr44.1k-h1024.acf
	fullPattern = regexp.MustCompile(`sr(\d+(?:\.\d+)?)k.*?h(\d+)\.(\w+)$`)
	// model512.tflite
	trailingDigits = regexp.MustCompile(`(\d+)\.(\w+)$`)
)

// ParseMetadata extracts sample rate and chunk size from a model file name
// following *sr<rate>k*h<chunk>.<ext>. Names carrying only trailing digits
// yield a chunk size with unknown rate; anything else gets DefaultChunkSize.
func ParseMetadata(path string) (Metadata, error) {
	base := filepath.Base(path)
	meta := Metadata{
		Path:      path,
		Name:      base,
		ChunkSize: DefaultChunkSize,
		Extension: normalizeExt(filepath.Ext(base)),
	}
	if meta.Extension == "" {
		return meta, fmt.Errorf("model file %q has no extension", base)
	}

	if m := fullPattern.FindStringSubmatch(base); m != nil {
		khz, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return meta, fmt.Errorf("invalid sample rate in %q: %w", base, err)
		}
		chunk, err := strconv.Atoi(m[2])
		if err != nil || chunk <= 0 {
			return meta, fmt.Errorf("invalid chunk size in %q", base)
		}
		meta.SampleRate = int(khz*1000 + 0.5)
		meta.ChunkSize = chunk
		return meta, nil
	}

	if m := trailingDigits.FindStringSubmatch(base); m != nil {
		if chunk, err := strconv.Atoi(m[1]); err == nil && chunk > 0 {
			meta.ChunkSize = chunk
		}
	}
	return meta, nil
}
