// env.go environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "PITCHNET_DEBUG", validateEnvBool},

		// Stream
		{"stream.samplerate", "PITCHNET_SAMPLERATE", validateEnvPositiveInt},
		{"stream.chunksize", "PITCHNET_CHUNKSIZE", validateEnvNonNegativeInt},
		{"stream.waittimeout", "PITCHNET_WAITTIMEOUT", validateEnvDuration},
		{"stream.lockmemory", "PITCHNET_LOCKMEMORY", validateEnvBool},

		// Model
		{"model.path", "PITCHNET_MODEL_PATH", nil},
		{"model.dir", "PITCHNET_MODEL_DIR", nil},
		{"model.threads", "PITCHNET_MODEL_THREADS", validateEnvNonNegativeInt},
		{"model.usexnnpack", "PITCHNET_MODEL_USEXNNPACK", validateEnvBool},

		// Thresholds
		{"thresholds.confidence", "PITCHNET_CONFIDENCE_THRESHOLD", validateEnvUnitFloat},
		{"thresholds.amplitude", "PITCHNET_AMPLITUDE_THRESHOLD", validateEnvUnitFloat},

		// Audio and outputs
		{"audio.source", "PITCHNET_AUDIO_SOURCE", nil},
		{"output.mqtt.enabled", "PITCHNET_MQTT_ENABLED", validateEnvBool},
		{"output.mqtt.broker", "PITCHNET_MQTT_BROKER", nil},
		{"output.mqtt.username", "PITCHNET_MQTT_USERNAME", nil},
		{"output.mqtt.password", "PITCHNET_MQTT_PASSWORD", nil},
		{"output.history.dsn", "PITCHNET_HISTORY_DSN", nil},
		{"api.listen", "PITCHNET_API_LISTEN", nil},
		{"sentry.enabled", "PITCHNET_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "PITCHNET_SENTRY_DSN", nil},
	}
}

func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		// Present-but-empty values are validated too.
		if binding.Validate != nil {
			if envValue, ok := os.LookupEnv(binding.EnvVar); ok {
				if err := binding.Validate(strings.TrimSpace(envValue)); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("value must be positive, got %d", n)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("value must not be negative, got %d", n)
	}
	return nil
}

func validateEnvUnitFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid threshold: %w", err)
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0, got %g", f)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix("PITCHNET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}
