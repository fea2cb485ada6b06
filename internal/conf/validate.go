// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/tphakala/pitchnet-go/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) error{
		func(s *Settings) error { return validateStreamSettings(&s.Stream) },
		func(s *Settings) error { return validateModelSettings(&s.Model) },
		func(s *Settings) error { return validateThresholdSettings(&s.Thresholds) },
		func(s *Settings) error { return validateAudioSettings(&s.Audio) },
		func(s *Settings) error { return validateOutputSettings(&s.Output) },
		func(s *Settings) error { return validateAPISettings(&s.API) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
	} {
		if err := check(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("config").
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func joinErrs(section string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s settings: %s", section, strings.Join(errs, ", "))
}

func validateStreamSettings(s *StreamSettings) error {
	var errs []string
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Sprintf("sample rate must be positive, got %d", s.SampleRate))
	}
	if s.ChunkSize < 0 {
		errs = append(errs, fmt.Sprintf("chunk size must not be negative, got %d", s.ChunkSize))
	}
	if s.MinBufferSize < 0 {
		errs = append(errs, fmt.Sprintf("minimum buffer size must not be negative, got %d", s.MinBufferSize))
	}
	if s.WaitTimeout < 0 {
		errs = append(errs, "wait timeout must not be negative")
	}
	if s.WarmResetChunks < 0 {
		errs = append(errs, "warm reset chunk count must not be negative")
	}
	if s.BlockSize <= 0 {
		errs = append(errs, fmt.Sprintf("block size must be positive, got %d", s.BlockSize))
	}
	return joinErrs("stream", errs)
}

func validateModelSettings(s *ModelSettings) error {
	var errs []string
	if s.Path == "" && s.Dir == "" {
		errs = append(errs, "either a model path or a model directory is required")
	}
	if s.Threads < 0 {
		errs = append(errs, fmt.Sprintf("threads must not be negative, got %d", s.Threads))
	}
	return joinErrs("model", errs)
}

func validateThresholdSettings(s *ThresholdSettings) error {
	var errs []string
	if s.Confidence < 0 || s.Confidence > 1 {
		errs = append(errs, fmt.Sprintf("confidence threshold must be between 0 and 1, got %g", s.Confidence))
	}
	if s.Amplitude < 0 || s.Amplitude > 1 {
		errs = append(errs, fmt.Sprintf("amplitude threshold must be between 0 and 1, got %g", s.Amplitude))
	}
	return joinErrs("thresholds", errs)
}

func validateAudioSettings(s *AudioSettings) error {
	var errs []string
	if s.Channels < 1 || s.Channels > 8 {
		errs = append(errs, fmt.Sprintf("channels must be between 1 and 8, got %d", s.Channels))
	}
	if s.Gain < 0 || s.Gain > 4 {
		errs = append(errs, fmt.Sprintf("gain must be between 0 and 4, got %g", s.Gain))
	}
	return joinErrs("audio", errs)
}

func validateOutputSettings(s *OutputSettings) error {
	var errs []string
	if s.QueueSize <= 0 {
		errs = append(errs, fmt.Sprintf("queue size must be positive, got %d", s.QueueSize))
	}
	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			errs = append(errs, "MQTT broker URL is required when MQTT is enabled")
		} else if u, err := url.Parse(s.MQTT.Broker); err != nil || u.Host == "" {
			errs = append(errs, fmt.Sprintf("invalid MQTT broker URL %q", s.MQTT.Broker))
		}
		if s.MQTT.Topic == "" {
			errs = append(errs, "MQTT topic is required when MQTT is enabled")
		}
		if s.MQTT.QoS > 2 {
			errs = append(errs, fmt.Sprintf("MQTT QoS must be 0, 1 or 2, got %d", s.MQTT.QoS))
		}
		switch s.MQTT.Encoding {
		case "", "json", "msgpack":
		default:
			errs = append(errs, fmt.Sprintf("MQTT encoding must be json or msgpack, got %q", s.MQTT.Encoding))
		}
	}
	if s.History.Enabled {
		switch s.History.Driver {
		case "sqlite", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("history driver must be sqlite or mysql, got %q", s.History.Driver))
		}
		if s.History.DSN == "" {
			errs = append(errs, "history DSN is required when history is enabled")
		}
		if s.History.Retention < 0 {
			errs = append(errs, "history retention must not be negative")
		}
	}
	return joinErrs("output", errs)
}

func validateAPISettings(s *APISettings) error {
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("api settings: invalid listen address %q: %w", s.Listen, err)
	}
	return nil
}

func validateSentrySettings(s *SentrySettings) error {
	if s.Enabled && s.DSN == "" {
		return fmt.Errorf("sentry settings: DSN is required when sentry is enabled")
	}
	return nil
}
