package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Stream = StreamSettings{SampleRate: 48000, MinBufferSize: 4096, WaitTimeout: 100 * time.Millisecond, WarmResetChunks: 8, BlockSize: 64}
	s.Model = ModelSettings{Dir: "models"}
	s.Audio = AudioSettings{Channels: 1, Gain: 1}
	s.Output = OutputSettings{QueueSize: 256}
	s.API = APISettings{Enabled: true, Listen: "127.0.0.1:8090"}
	return s
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"zero sample rate", func(s *Settings) { s.Stream.SampleRate = 0 }, "sample rate"},
		{"negative chunk", func(s *Settings) { s.Stream.ChunkSize = -1 }, "chunk size"},
		{"no model source", func(s *Settings) { s.Model.Dir = "" }, "model path or a model directory"},
		{"confidence above one", func(s *Settings) { s.Thresholds.Confidence = 1.1 }, "confidence threshold"},
		{"negative amplitude", func(s *Settings) { s.Thresholds.Amplitude = -0.1 }, "amplitude threshold"},
		{"too many channels", func(s *Settings) { s.Audio.Channels = 9 }, "channels"},
		{"mqtt without broker", func(s *Settings) {
			s.Output.MQTT = MQTTSettings{Enabled: true, Topic: "t"}
		}, "broker URL is required"},
		{"mqtt bad encoding", func(s *Settings) {
			s.Output.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://localhost:1883", Topic: "t", Encoding: "xml"}
		}, "encoding"},
		{"mqtt bad qos", func(s *Settings) {
			s.Output.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://localhost:1883", Topic: "t", QoS: 3}
		}, "QoS"},
		{"history bad driver", func(s *Settings) {
			s.Output.History = HistorySettings{Enabled: true, Driver: "postgres", DSN: "x"}
		}, "history driver"},
		{"api bad listen", func(s *Settings) { s.API.Listen = "8090" }, "listen address"},
		{"api disabled ignores listen", func(s *Settings) { s.API = APISettings{} }, ""},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "DSN is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvBool("true"))
	assert.Error(t, validateEnvBool("maybe"))
	assert.NoError(t, validateEnvPositiveInt("48000"))
	assert.Error(t, validateEnvPositiveInt("0"))
	assert.NoError(t, validateEnvNonNegativeInt("0"))
	assert.Error(t, validateEnvNonNegativeInt("-1"))
	assert.NoError(t, validateEnvUnitFloat("0.5"))
	assert.Error(t, validateEnvUnitFloat("1.5"))
	assert.NoError(t, validateEnvDuration("150ms"))
	assert.Error(t, validateEnvDuration("soon"))
}

func TestConfigureEnvironmentVariablesReportsInvalidValues(t *testing.T) {
	resetViper(t)
	t.Setenv("PITCHNET_DEBUG", "maybe")
	t.Setenv("PITCHNET_SAMPLERATE", "")

	err := configureEnvironmentVariables()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PITCHNET_DEBUG")
	assert.Contains(t, err.Error(), "PITCHNET_SAMPLERATE")
}
