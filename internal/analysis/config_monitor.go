package analysis

import (
	"github.com/tphakala/pitchnet-go/internal/conf"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/stream"
)

// Poster queues a control command without waiting for it.
// *stream.ControlQueue implements it.
type Poster interface {
	Post(cmd stream.Command) bool
}

// GainSetter adjusts live input gain.
type GainSetter interface {
	SetGain(gain float64) error
}

// ConfigMonitor turns configuration file changes into control commands for
// a running stream. Settings that cannot change at runtime are reported.
type ConfigMonitor struct {
	control Poster
	gain    GainSetter // nil in file mode
	log     logger.Logger
}

// NewConfigMonitor creates a monitor posting to control. gain may be nil.
func NewConfigMonitor(control Poster, gain GainSetter) *ConfigMonitor {
	return &ConfigMonitor{
		control: control,
		gain:    gain,
		log:     GetLogger().Module("config"),
	}
}

// HandleChange is a conf.ChangeHandler.
func (cm *ConfigMonitor) HandleChange(old, updated *conf.Settings) {
	if old == nil || updated == nil {
		return
	}

	if old.Thresholds.Confidence != updated.Thresholds.Confidence {
		cm.post(stream.Command{Action: stream.ActionSetConfidence, Value: updated.Thresholds.Confidence})
	}
	if old.Thresholds.Amplitude != updated.Thresholds.Amplitude {
		cm.post(stream.Command{Action: stream.ActionSetAmplitude, Value: updated.Thresholds.Amplitude})
	}

	// An explicit model path wins over a chunk size change.
	switch {
	case updated.Model.Path != "" && old.Model.Path != updated.Model.Path:
		cm.post(stream.Command{Action: stream.ActionSetModel, Path: updated.Model.Path})
	case updated.Stream.ChunkSize > 0 && old.Stream.ChunkSize != updated.Stream.ChunkSize:
		cm.post(stream.Command{Action: stream.ActionSetChunkSize, Size: updated.Stream.ChunkSize})
	}

	if old.Audio.Gain != updated.Audio.Gain && cm.gain != nil {
		if err := cm.gain.SetGain(updated.Audio.Gain); err != nil {
			cm.log.Warn("failed to apply input gain", logger.Float64("gain", updated.Audio.Gain), logger.Error(err))
		} else {
			cm.log.Info("input gain updated", logger.Float64("gain", updated.Audio.Gain))
		}
	}

	for _, key := range restartRequired(old, updated) {
		cm.log.Warn("setting changed, restart required to apply", logger.String("setting", key))
	}
}

func (cm *ConfigMonitor) post(cmd stream.Command) {
	if !cm.control.Post(cmd) {
		cm.log.Warn("control queue rejected configuration change", logger.String("action", string(cmd.Action)))
		return
	}
	cm.log.Info("configuration change queued", logger.String("action", string(cmd.Action)))
}

func restartRequired(old, updated *conf.Settings) []string {
	var keys []string
	if old.Stream.SampleRate != updated.Stream.SampleRate {
		keys = append(keys, "stream.samplerate")
	}
	if old.Stream.MinBufferSize != updated.Stream.MinBufferSize {
		keys = append(keys, "stream.minbuffersize")
	}
	if old.Audio.Source != updated.Audio.Source || old.Audio.Channels != updated.Audio.Channels {
		keys = append(keys, "audio.source")
	}
	if old.Output.MQTT != updated.Output.MQTT {
		keys = append(keys, "output.mqtt")
	}
	if old.Output.History != updated.Output.History {
		keys = append(keys, "output.history")
	}
	if old.API != updated.API {
		keys = append(keys, "api")
	}
	return keys
}
