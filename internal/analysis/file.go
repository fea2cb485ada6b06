package analysis

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tphakala/pitchnet-go/internal/capture"
	"github.com/tphakala/pitchnet-go/internal/conf"
	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
)

// ErrAnalysisCanceled is returned when file analysis is interrupted.
var ErrAnalysisCanceled = errors.NewStd("analysis canceled")

// FileSummary reports one file replay.
type FileSummary struct {
	File     string         `json:"file"`
	Format   capture.Format `json:"format"`
	Samples  int64          `json:"samples"`
	Results  uint64         `json:"results"`
	Dropped  uint64         `json:"dropped"`
	Elapsed  time.Duration  `json:"elapsed"`
	Realtime float64        `json:"realtimeFactor"`
}

// FileAnalysis replays settings.InputFile through the stream and prints a
// summary. Results go to the configured sinks.
func FileAnalysis(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := RunFile(ctx, settings)
	if err != nil {
		return err
	}
	writeSummary(os.Stdout, &summary)
	return nil
}

// RunFile replays settings.InputFile at the stream rate with the configured
// pacing and returns once every full chunk has been inferred.
func RunFile(ctx context.Context, settings *conf.Settings) (FileSummary, error) {
	path := settings.InputFile
	if err := validateAudioFile(path); err != nil {
		return FileSummary{}, err
	}
	pacing, err := capture.ParsePacing(settings.Pacing)
	if err != nil {
		return FileSummary{}, err
	}

	p, err := NewPipeline(ctx, settings)
	if err != nil {
		return FileSummary{}, err
	}
	if err := p.Start(ctx); err != nil {
		_ = p.Close()
		return FileSummary{}, err
	}

	summary, runErr := replayFile(ctx, p, path, pacing, settings.Stream.BlockSize)
	closeErr := p.Close()
	summary.Results = p.Dispatcher.Emitted()
	summary.Dropped = p.Dispatcher.Dropped()

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return summary, ErrAnalysisCanceled
		}
		return summary, runErr
	}
	if closeErr != nil {
		GetLogger().Warn("pipeline shutdown reported errors", logger.Error(closeErr))
	}
	return summary, nil
}

func replayFile(ctx context.Context, p *Pipeline, path string, pacing capture.Pacing, blockSize int) (FileSummary, error) {
	summary := FileSummary{File: path}

	dec, err := capture.OpenFile(path)
	if err != nil {
		return summary, err
	}
	defer func() { _ = dec.Close() }()
	summary.Format = dec.Format()

	resampled, err := capture.Resample(dec, p.Controller.SampleRate())
	if err != nil {
		return summary, err
	}

	stats, err := capture.Replay(ctx, resampled, p.Controller, capture.ReplayOptions{
		BlockSize: blockSize,
		Pacing:    pacing,
		Drainer:   p.Controller,
	})
	summary.Samples = stats.Samples
	summary.Elapsed = stats.Elapsed
	if err != nil {
		return summary, err
	}
	if stats.Elapsed > 0 {
		audio := float64(stats.Samples) / float64(p.Controller.SampleRate())
		summary.Realtime = audio / stats.Elapsed.Seconds()
	}
	return summary, nil
}

// validateAudioFile checks that path is a non-empty regular file.
func validateAudioFile(path string) error {
	if path == "" {
		return errors.Newf("no input file given").
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	if info.IsDir() {
		return errors.Newf("%s is a directory, not a file", filepath.Base(path)).
			Component("analysis").
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}
	if info.Size() == 0 {
		return errors.Newf("file %s is empty", filepath.Base(path)).
			Component("analysis").
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}
	return nil
}

func writeSummary(w io.Writer, s *FileSummary) {
	_, _ = fmt.Fprintf(w, "%s: %d Hz, %d ch, %d-bit\n", filepath.Base(s.File), s.Format.SampleRate, s.Format.Channels, s.Format.BitDepth)
	_, _ = fmt.Fprintf(w, "samples: %d, results: %d, dropped: %d\n", s.Samples, s.Results, s.Dropped)
	_, _ = fmt.Fprintf(w, "elapsed: %s (%.1fx realtime)\n", s.Elapsed.Round(time.Millisecond), s.Realtime)
}
