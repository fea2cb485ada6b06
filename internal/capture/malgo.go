package capture

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
)

// Processor consumes mono float32 blocks on the audio thread. Process must
// not block.
type Processor interface {
	Process(block []float32)
}

// MalgoConfig configures live capture.
type MalgoConfig struct {
	Device       string
	SampleRate   uint32
	Channels     uint8
	BufferFrames uint32 // period size hint
	Gain         float64
}

// MalgoSource captures from a sound card and feeds a Processor from the
// device callback.
type MalgoSource struct {
	config MalgoConfig
	proc   Processor

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	format   malgo.FormatType
	channels int
	rate     uint32

	// touched only by the device callback after Start
	buf []float32

	gain      atomic.Uint32 // float32 bits
	callbacks atomic.Uint64
	errorChan chan error

	mu      sync.Mutex
	running atomic.Bool
	stopped chan struct{}
	log     logger.Logger
}

// NewMalgoSource creates an unstarted source delivering to proc.
func NewMalgoSource(config MalgoConfig, proc Processor) (*MalgoSource, error) {
	if proc == nil {
		return nil, errors.Newf("capture requires a processor").
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
	if config.SampleRate == 0 {
		config.SampleRate = 48000
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	if config.BufferFrames == 0 {
		config.BufferFrames = 256
	}
	if config.Gain == 0 {
		config.Gain = 1
	}
	s := &MalgoSource{
		config:    config,
		proc:      proc,
		errorChan: make(chan error, 8),
		log:       GetLogger().Module("malgo"),
	}
	if err := s.SetGain(config.Gain); err != nil {
		return nil, err
	}
	return s, nil
}

// Start opens the device and begins capture. The source stops when ctx ends
// or Stop is called.
func (s *MalgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return errors.Newf("capture already running").
			Component("capture").
			Category(errors.CategoryState).
			Build()
	}

	mctx, err := initContext()
	if err != nil {
		return err
	}
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		_ = mctx.Uninit()
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}
	info, err := SelectDevice(infos, s.config.Device)
	if err != nil {
		_ = mctx.Uninit()
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(s.config.Channels)
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = s.config.SampleRate
	deviceConfig.PeriodSizeInFrames = s.config.BufferFrames
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onAudioData,
		Stop: s.onDeviceStop,
	})
	if err != nil {
		_ = mctx.Uninit()
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryAudioSource).
			Context("device", info.Name()).
			Context("operation", "init_device").
			Build()
	}

	s.format = device.CaptureFormat()
	s.channels = int(device.CaptureChannels())
	s.rate = device.SampleRate()
	size, err := SampleSize(s.format)
	if err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryAudioSource).
			Build()
	}
	// headroom for callbacks larger than the period hint
	s.buf = make([]float32, int(s.config.BufferFrames)*4)

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryAudioSource).
			Context("operation", "start_device").
			Build()
	}

	s.ctx = mctx
	s.device = device
	s.stopped = make(chan struct{})
	s.running.Store(true)

	s.log.Info("capture started",
		logger.String("device", info.Name()),
		logger.Int("sample_rate", int(s.rate)),
		logger.Int("channels", s.channels),
		logger.Int("bytes_per_sample", size))
	if s.rate != s.config.SampleRate {
		s.log.Warn("device sample rate differs from requested rate",
			logger.Int("requested", int(s.config.SampleRate)),
			logger.Int("actual", int(s.rate)))
	}

	stopped := s.stopped
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-stopped:
		}
	}()
	return nil
}

// SampleRate returns the negotiated device rate, valid after Start.
func (s *MalgoSource) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.rate)
}

// Stop halts capture and releases the device. It is safe to call twice.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Swap(false) {
		return nil
	}
	close(s.stopped)
	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
	s.log.Info("capture stopped", logger.Uint64("callbacks", s.callbacks.Load()))
	return nil
}

// Errors reports device problems. The channel is never closed.
func (s *MalgoSource) Errors() <-chan error { return s.errorChan }

// SetGain sets the input gain, 0 to 4.
func (s *MalgoSource) SetGain(gain float64) error {
	if gain < 0 || gain > 4 || math.IsNaN(gain) {
		return errors.Newf("gain must be between 0 and 4, got %v", gain).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
	s.gain.Store(math.Float32bits(float32(gain)))
	return nil
}

// onAudioData runs on the device thread.
func (s *MalgoSource) onAudioData(_, input []byte, _ uint32) {
	s.callbacks.Add(1)
	block, err := ConvertToFloat32(input, s.format, s.channels, s.buf)
	if err != nil {
		s.report(err)
		return
	}
	if cap(block) > cap(s.buf) {
		s.buf = block
	}
	if g := math.Float32frombits(s.gain.Load()); g != 1 {
		applyGain(block, g)
	}
	s.proc.Process(block)
}

func (s *MalgoSource) report(err error) {
	select {
	case s.errorChan <- err:
	default:
	}
}

// onDeviceStop fires when the device stops, including unexpected stops;
// those get one restart attempt.
func (s *MalgoSource) onDeviceStop() {
	if !s.running.Load() {
		return
	}
	s.report(errors.Newf("audio device stopped unexpectedly").
		Component("capture").
		Category(errors.CategoryAudioSource).
		Build())

	go func() {
		time.Sleep(time.Second)
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.running.Load() || s.device == nil {
			return
		}
		if err := s.device.Start(); err != nil {
			s.report(errors.New(err).
				Component("capture").
				Category(errors.CategoryAudioSource).
				Context("operation", "restart_device").
				Build())
		}
	}()
}
