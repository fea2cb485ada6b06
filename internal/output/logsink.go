package output

import (
	"context"

	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/logger"
)

// LogSink writes every result to the module logger.
type LogSink struct {
	log   logger.Logger
	level logger.LogLevel
}

// NewLogSink logs results at level; an empty level means debug.
func NewLogSink(log logger.Logger, level logger.LogLevel) *LogSink {
	if log == nil {
		log = GetLogger().Module("results")
	}
	if level == "" {
		level = logger.LogLevelDebug
	}
	return &LogSink{log: log, level: level}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, r inference.Result) error {
	s.log.Log(s.level, "pitch",
		logger.Uint64("sequence", r.Sequence),
		logger.Float32("pitch", r.Pitch),
		logger.Float32("confidence", r.Confidence),
		logger.Float32("amplitude", r.Amplitude),
		logger.Bool("gated", r.Gated),
		logger.Bool("probe", r.Probe),
		logger.Duration("latency", r.Latency))
	return nil
}

func (s *LogSink) Close() error { return s.log.Flush() }
