// Package conf provides configuration management for PitchNet-Go.
package conf

import "github.com/tphakala/pitchnet-go/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger on each call because the central logger is configured from these
// very settings.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
