package capture

import (
	"context"
	"io"
	"time"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
)

// Pacing selects how fast Replay feeds blocks.
type Pacing string

const (
	// PacingRealtime sleeps between blocks to match the file's sample rate.
	PacingRealtime Pacing = "realtime"
	// PacingLockstep waits for the consumer to drain after every block.
	PacingLockstep Pacing = "lockstep"
)

// ParsePacing validates a pacing name. An empty name selects lockstep.
func ParsePacing(s string) (Pacing, error) {
	switch Pacing(s) {
	case "", PacingLockstep:
		return PacingLockstep, nil
	case PacingRealtime:
		return PacingRealtime, nil
	default:
		return "", errors.Newf("unknown pacing %q", s).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
}

// Drainer blocks until buffered audio has been consumed.
type Drainer interface {
	Drain(ctx context.Context) error
}

// ReplayOptions configure Replay.
type ReplayOptions struct {
	BlockSize int
	Pacing    Pacing
	// Drainer is required for lockstep pacing and used once at the end of
	// realtime replay when set.
	Drainer Drainer
}

// ReplayStats summarizes a finished replay.
type ReplayStats struct {
	Samples int64         `json:"samples"`
	Blocks  int64         `json:"blocks"`
	Elapsed time.Duration `json:"elapsed"`
}

// Replay reads dec to the end and hands it to proc in BlockSize pieces.
func Replay(ctx context.Context, dec Decoder, proc Processor, opts ReplayOptions) (ReplayStats, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 64
	}
	if opts.Pacing == "" {
		opts.Pacing = PacingLockstep
	}
	if opts.Pacing == PacingLockstep && opts.Drainer == nil {
		return ReplayStats{}, errors.Newf("lockstep replay requires a drainer").
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}

	format := dec.Format()
	log := GetLogger()
	log.Info("starting file replay",
		logger.Int("sample_rate", format.SampleRate),
		logger.Int("block_size", opts.BlockSize),
		logger.String("pacing", string(opts.Pacing)))

	var (
		stats    ReplayStats
		start    = time.Now()
		block    = make([]float32, opts.BlockSize)
		interval time.Duration
		next     = start
	)
	if opts.Pacing == PacingRealtime && format.SampleRate > 0 {
		interval = time.Duration(int64(opts.BlockSize) * int64(time.Second) / int64(format.SampleRate))
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := readBlock(dec, block)
		if n > 0 {
			proc.Process(block[:n])
			stats.Samples += int64(n)
			stats.Blocks++

			switch opts.Pacing {
			case PacingLockstep:
				if derr := opts.Drainer.Drain(ctx); derr != nil {
					return stats, derr
				}
			case PacingRealtime:
				next = next.Add(interval)
				if wait := time.Until(next); wait > 0 {
					timer := time.NewTimer(wait)
					select {
					case <-ctx.Done():
						timer.Stop()
						return stats, ctx.Err()
					case <-timer.C:
					}
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, errors.New(err).
				Component("capture").
				Category(errors.CategoryAudioDecode).
				Context("operation", "replay_read").
				Context("samples_read", stats.Samples).
				Build()
		}
	}

	if opts.Pacing == PacingRealtime && opts.Drainer != nil {
		if err := opts.Drainer.Drain(ctx); err != nil {
			return stats, err
		}
	}

	stats.Elapsed = time.Since(start)
	log.Info("file replay finished",
		logger.Int64("samples", stats.Samples),
		logger.Int64("blocks", stats.Blocks),
		logger.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// readBlock fills block unless the decoder ends first. A short final block is
// returned together with io.EOF.
func readBlock(dec Decoder, block []float32) (int, error) {
	filled := 0
	for filled < len(block) {
		n, err := dec.Read(block[filled:])
		filled += n
		if err != nil {
			return filled, err
		}
		if n == 0 {
			return filled, io.ErrNoProgress
		}
	}
	return filled, nil
}
