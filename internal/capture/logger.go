package capture

import (
	"sync"

	"github.com/tphakala/pitchnet-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the capture package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("capture")
	})
	return serviceLogger
}
