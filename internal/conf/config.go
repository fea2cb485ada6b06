// config.go defines the settings struct and functions to load and save it.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/pitchnet-go/internal/logger"
)

// StreamSettings configures the audio to inference bridge.
type StreamSettings struct {
	SampleRate      int           // stream sample rate in Hz
	ChunkSize       int           // samples per inference, 0 picks the best available model
	MinBufferSize   int           // lower bound for the sample ring capacity
	WaitTimeout     time.Duration // worker liveness interval
	WarmResetChunks int           // zero chunks fed to the model on reset
	BlockSize       int           // host block size used for file replay
	LockMemory      bool          // mlockall on startup (Linux)
}

// ModelSettings configures model discovery and backends.
type ModelSettings struct {
	Path         string        // explicit model file, empty selects from Dir
	Dir          string        // directory scanned for model artifacts
	Threads      int           // interpreter threads, 0 for automatic
	UseXNNPACK   bool          // enable the XNNPACK delegate
	DiscoveryTTL time.Duration // how long a directory listing is cached
}

// ThresholdSettings gate results. 0 disables a threshold.
type ThresholdSettings struct {
	Confidence float64
	Amplitude  float64
}

// AudioSettings configures live capture.
type AudioSettings struct {
	Source   string  // capture device name, id or "default"
	Channels int     // capture channels, downmixed to mono
	Gain     float64 // linear input gain
}

// LogOutputSettings configures the result log sink.
type LogOutputSettings struct {
	Enabled bool
}

// MQTTSettings configures the MQTT result sink.
type MQTTSettings struct {
	Enabled       bool
	Broker        string
	Topic         string
	ClientID      string
	Username      string
	Password      string
	QoS           byte
	Retain        bool
	Encoding      string // json or msgpack
	SplitChannels bool   // publish amplitude, confidence and pitch separately
}

// HistorySettings configures the result history sink.
type HistorySettings struct {
	Enabled       bool
	Driver        string // sqlite or mysql
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
	Retention     time.Duration // 0 keeps everything
	SkipGated     bool
}

// OutputSettings configures result delivery.
type OutputSettings struct {
	QueueSize int
	Log       LogOutputSettings
	MQTT      MQTTSettings
	History   HistorySettings
}

// APISettings configures the HTTP control and status API.
type APISettings struct {
	Enabled bool
	Listen  string
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool
	DSN     string
	Debug   bool
}

// Settings contains all configuration options for PitchNet-Go.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string // name of the instance, used in status and telemetry
	}

	Stream     StreamSettings
	Model      ModelSettings
	Thresholds ThresholdSettings
	Audio      AudioSettings
	Output     OutputSettings
	API        APISettings
	Sentry     SentrySettings

	Logging logger.LoggingConfig `yaml:"logging"`

	InputFile string `yaml:"-"` // file replay input, runtime value
	Pacing    string `yaml:"-"` // file replay pacing, runtime value
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile, or config.yaml from the default locations when it
// is empty, merges environment variables and validates the result.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		// Invalid environment values are reported but do not stop startup;
		// validation below rejects values that are actually unusable.
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the defaults to dir/config.yaml and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	defaults := &Settings{}
	if err := viper.Unmarshal(defaults); err != nil {
		return fmt.Errorf("error building default settings: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := SaveYAMLConfig(configPath, defaults); err != nil {
		return err
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// ConfigFileUsed returns the path of the loaded config file.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// SaveSettings writes the current settings back to the loaded config file.
func SaveSettings() error {
	settingsMutex.RLock()
	if settingsInstance == nil {
		settingsMutex.RUnlock()
		return fmt.Errorf("settings have not been loaded")
	}
	settingsCopy := *settingsInstance
	settingsMutex.RUnlock()

	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		var err error
		if configPath, err = FindConfigFile(); err != nil {
			return fmt.Errorf("error finding config file: %w", err)
		}
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	GetLogger().Info("settings saved", logger.String("path", configPath))
	return nil
}

// SaveYAMLConfig writes settings to configPath. It overwrites the existing
// file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temporary file first so a failed write never truncates the
	// existing config.
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// Rename fails across devices; fall back to copy and delete.
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}
	return nil
}
