// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/pitchnet-go/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "PitchNet-Go")

	viper.SetDefault("stream.samplerate", 48000)
	viper.SetDefault("stream.chunksize", 0)
	viper.SetDefault("stream.minbuffersize", 4096)
	viper.SetDefault("stream.waittimeout", 100*time.Millisecond)
	viper.SetDefault("stream.warmresetchunks", 8)
	viper.SetDefault("stream.blocksize", 64)
	viper.SetDefault("stream.lockmemory", false)

	viper.SetDefault("model.path", "")
	viper.SetDefault("model.dir", "models")
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.usexnnpack", false)
	viper.SetDefault("model.discoveryttl", 30*time.Second)

	viper.SetDefault("thresholds.confidence", 0.0)
	viper.SetDefault("thresholds.amplitude", 0.0)

	viper.SetDefault("audio.source", "default")
	viper.SetDefault("audio.channels", 1)
	viper.SetDefault("audio.gain", 1.0)

	viper.SetDefault("output.queuesize", 256)
	viper.SetDefault("output.log.enabled", true)

	viper.SetDefault("output.mqtt.enabled", false)
	viper.SetDefault("output.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("output.mqtt.topic", "pitchnet")
	viper.SetDefault("output.mqtt.clientid", "")
	viper.SetDefault("output.mqtt.username", "")
	viper.SetDefault("output.mqtt.password", "")
	viper.SetDefault("output.mqtt.qos", 0)
	viper.SetDefault("output.mqtt.retain", false)
	viper.SetDefault("output.mqtt.encoding", "json")
	viper.SetDefault("output.mqtt.splitchannels", false)

	viper.SetDefault("output.history.enabled", false)
	viper.SetDefault("output.history.driver", "sqlite")
	viper.SetDefault("output.history.dsn", "pitchnet.db")
	viper.SetDefault("output.history.batchsize", 100)
	viper.SetDefault("output.history.flushinterval", 2*time.Second)
	viper.SetDefault("output.history.retention", 0)
	viper.SetDefault("output.history.skipgated", false)

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "127.0.0.1:8090")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.debug", false)

	viper.SetDefault("logging.default_level", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	viper.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
}
