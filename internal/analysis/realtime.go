package analysis

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/pitchnet-go/internal/api"
	"github.com/tphakala/pitchnet-go/internal/capture"
	"github.com/tphakala/pitchnet-go/internal/conf"
	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/stream"
	"github.com/tphakala/pitchnet-go/internal/telemetry"
)

const sentryFlushTimeout = 2 * time.Second

// RealtimeAnalysis captures from the configured sound card and runs the
// stream until SIGINT or SIGTERM.
func RealtimeAnalysis(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunRealtime(ctx, settings)
}

// RunRealtime is RealtimeAnalysis bound to ctx instead of process signals.
func RunRealtime(ctx context.Context, settings *conf.Settings) error {
	log := GetLogger()
	defer telemetry.Flush(sentryFlushTimeout)

	if settings.Stream.LockMemory {
		if err := stream.LockMemory(); err != nil {
			log.Warn("memory locking failed, continuing without it", logger.Error(err))
		} else {
			defer func() { _ = stream.UnlockMemory() }()
		}
	}

	p, err := NewPipeline(ctx, settings)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		_ = p.Close()
		return err
	}

	src, err := capture.NewMalgoSource(capture.MalgoConfig{
		Device:     settings.Audio.Source,
		SampleRate: uint32(settings.Stream.SampleRate),
		Channels:   uint8(settings.Audio.Channels),
		Gain:       settings.Audio.Gain,
	}, p.Controller)
	if err != nil {
		_ = p.Close()
		return err
	}
	if err := src.Start(ctx); err != nil {
		_ = p.Close()
		return err
	}
	if rate := src.SampleRate(); rate != p.Controller.SampleRate() {
		_ = src.Stop()
		_ = p.Close()
		return errors.Newf("capture device runs at %d Hz, stream expects %d Hz", rate, p.Controller.SampleRate()).
			Component("analysis").
			Category(errors.CategoryAudioSource).
			Context("device", settings.Audio.Source).
			Build()
	}

	conf.Watch(NewConfigMonitor(p.Control, src).HandleChange)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchCaptureErrors(gctx, src)
	})
	if settings.API.Enabled {
		server := newAPIServer(settings, p)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	log.Info("realtime analysis running",
		logger.String("device", settings.Audio.Source),
		logger.Bool("api", settings.API.Enabled))

	err = g.Wait()

	// capture first so nothing touches the ring while the stream closes
	if serr := src.Stop(); serr != nil {
		log.Warn("failed to stop capture", logger.Error(serr))
	}
	if cerr := p.Close(); cerr != nil {
		log.Warn("pipeline shutdown reported errors", logger.Error(cerr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("realtime analysis stopped")
	return nil
}

// watchCaptureErrors logs device errors until ctx ends. Capture errors do not
// stop the stream.
func watchCaptureErrors(ctx context.Context, src *capture.MalgoSource) error {
	log := GetLogger().Module("capture")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-src.Errors():
			if !ok {
				return nil
			}
			log.Error("capture error", logger.Error(err))
			telemetry.CaptureError(err, "capture")
		}
	}
}

func newAPIServer(settings *conf.Settings, p *Pipeline) *api.Server {
	cfg := api.Config{
		Listen:       settings.API.Listen,
		InstanceName: settings.Main.Name,
		Stream:       p.Controller,
		Commander:    p.Control,
		Results:      p.Latest,
		Metrics:      p.Metrics.Handler(),
	}
	if p.History != nil {
		cfg.History = p.History
	}
	return api.New(cfg)
}
