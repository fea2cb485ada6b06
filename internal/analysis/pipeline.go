// Package analysis wires configuration into a running stream: the
// controller, its control queue, result delivery and the capture source in
// realtime or file replay mode.
package analysis

import (
	"context"
	"time"

	"github.com/tphakala/pitchnet-go/internal/conf"
	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/model"
	"github.com/tphakala/pitchnet-go/internal/observability"
	"github.com/tphakala/pitchnet-go/internal/output"
	"github.com/tphakala/pitchnet-go/internal/stream"
)

const (
	latestResults      = 256
	mqttConnectTimeout = 15 * time.Second
	historySlowQuery   = 200 * time.Millisecond
)

// Pipeline is one stream and everything its results flow into.
type Pipeline struct {
	Settings   *conf.Settings
	Metrics    *observability.Metrics
	Controller *stream.Controller
	Control    *stream.ControlQueue
	Dispatcher *output.Dispatcher
	Latest     *output.Latest
	History    *output.HistorySink // nil when disabled

	log logger.Logger
}

// NewPipeline builds an unstarted pipeline from settings. Sinks that fail to
// come up are logged and skipped, the stream itself must build.
func NewPipeline(ctx context.Context, settings *conf.Settings) (*Pipeline, error) {
	if settings == nil {
		return nil, errors.Newf("analysis requires settings").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := GetLogger()

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategorySystem).
			Context("operation", "init_metrics").
			Build()
	}

	p := &Pipeline{
		Settings: settings,
		Metrics:  m,
		Latest:   output.NewLatest(latestResults),
		log:      log,
	}

	sinks := []output.Sink{p.Latest}
	if settings.Output.Log.Enabled {
		sinks = append(sinks, output.NewLogSink(output.GetLogger().Module("results"), logger.LogLevelInfo))
	}
	if settings.Output.MQTT.Enabled {
		if sink, err := connectMQTT(ctx, &settings.Output.MQTT, m); err != nil {
			log.Warn("MQTT output disabled", logger.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	if settings.Output.History.Enabled {
		h := settings.Output.History
		hist, err := output.OpenHistory(output.HistoryConfig{
			Driver:        h.Driver,
			DSN:           h.DSN,
			BatchSize:     h.BatchSize,
			FlushInterval: h.FlushInterval,
			Retention:     h.Retention,
			SlowThreshold: historySlowQuery,
			SkipGated:     h.SkipGated,
		})
		if err != nil {
			log.Warn("result history disabled", logger.Error(err))
		} else {
			p.History = hist
			sinks = append(sinks, hist)
		}
	}

	p.Dispatcher = output.NewDispatcher(settings.Output.QueueSize, sinks,
		output.WithRecorder(m.Output),
		output.WithQueueObserver(m.Output))

	ctrl, err := stream.New(stream.Config{
		SampleRate:      settings.Stream.SampleRate,
		ChunkSize:       settings.Stream.ChunkSize,
		MinBufferSize:   settings.Stream.MinBufferSize,
		WaitTimeout:     settings.Stream.WaitTimeout,
		WarmResetChunks: settings.Stream.WarmResetChunks,
		ModelPath:       settings.Model.Path,
		ModelDir:        settings.Model.Dir,
		ModelOptions: model.Options{
			Threads:    settings.Model.Threads,
			UseXNNPACK: settings.Model.UseXNNPACK,
		},
		Catalog:  model.NewCatalog(settings.Model.DiscoveryTTL),
		Emitter:  p.Dispatcher,
		Recorder: m.Stream,
		Observer: m.Stream,
	})
	if err != nil {
		_ = p.Dispatcher.Close()
		return nil, err
	}
	p.Controller = ctrl
	p.Control = stream.NewControlQueue(ctrl, 0)

	if err := m.AttachStream(ctrl); err != nil {
		log.Warn("stream gauges not exported", logger.Error(err))
	}
	return p, nil
}

func connectMQTT(ctx context.Context, s *conf.MQTTSettings, m *observability.Metrics) (*output.MQTTSink, error) {
	enc, err := output.ParseEncoding(s.Encoding)
	if err != nil {
		return nil, err
	}
	cfg := output.DefaultMQTTConfig()
	cfg.Broker = s.Broker
	cfg.Topic = s.Topic
	cfg.ClientID = s.ClientID
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.QoS = s.QoS
	cfg.Retain = s.Retain
	cfg.Encoding = enc
	cfg.SplitChannels = s.SplitChannels

	sink, err := output.NewMQTTSink(cfg, m.MQTT)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := sink.Connect(ctx); err != nil {
		_ = sink.Close()
		return nil, err
	}
	return sink, nil
}

// Start begins result delivery, loads the model and starts the control
// queue. Audio is accepted once Start returns.
func (p *Pipeline) Start(ctx context.Context) error {
	// delivery outlives ctx so results of the last chunks still reach sinks
	p.Dispatcher.Start(context.WithoutCancel(ctx))
	if err := p.Controller.Start(ctx); err != nil {
		return err
	}
	p.Control.Start()

	applyThresholds(p.Controller, p.Settings.Thresholds)
	st := p.Controller.Status()
	p.log.Info("pipeline started",
		logger.String("session", st.SessionID),
		logger.String("model", st.Model.Name),
		logger.Int("sample_rate", st.SampleRate),
		logger.Int("chunk_size", st.ChunkSize))
	return nil
}

func applyThresholds(ctrl *stream.Controller, t conf.ThresholdSettings) {
	ctrl.SetConfidenceThreshold(float32(t.Confidence))
	ctrl.SetAmplitudeThreshold(float32(t.Amplitude))
}

// Close shuts down in dependency order: control commands, then the stream,
// then result delivery. The capture source must be stopped first.
func (p *Pipeline) Close() error {
	p.Control.Stop()
	ctrlErr := p.Controller.Close()
	dispErr := p.Dispatcher.Close()

	p.log.Info("pipeline stopped",
		logger.Uint64("emitted", p.Dispatcher.Emitted()),
		logger.Uint64("dropped", p.Dispatcher.Dropped()))
	return errors.Join(ctrlErr, dispErr)
}
