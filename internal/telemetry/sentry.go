// Package telemetry sets up opt-in error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/pitchnet-go/internal/conf"
	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
)

var enabled atomic.Bool

// Option adjusts the Sentry client options before Init.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// InitSentry initializes Sentry when it is enabled in settings and registers
// it as the reporter for enhanced errors. It is a no-op otherwise.
func InitSentry(settings *conf.Settings, version string, opts ...Option) error {
	log := GetLogger()
	if !settings.Sentry.Enabled {
		log.Info("Sentry telemetry is disabled (opt-in required)")
		errors.SetTelemetryReporter(nil)
		return nil
	}

	options := sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		Debug:            settings.Sentry.Debug,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          fmt.Sprintf("pitchnet-go@%s", version),
		BeforeSend:       applyPrivacyFilters,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	configureSentryScope(settings, version)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	enabled.Store(true)

	log.Info("Sentry telemetry initialized",
		logger.String("release", options.Release),
		logger.Bool("debug", settings.Sentry.Debug))
	return nil
}

func configureSentryScope(settings *conf.Settings, version string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("application", map[string]any{
			"name":    settings.Main.Name,
			"version": version,
		})
		scope.SetContext("stream", map[string]any{
			"sample_rate": settings.Stream.SampleRate,
			"chunk_size":  settings.Stream.ChunkSize,
		})
	})
}

// applyPrivacyFilters strips host identifying data from every event.
func applyPrivacyFilters(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	return event
}

// CaptureError reports err outside the enhanced error path.
func CaptureError(err error, component string) {
	if err == nil || !enabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		sentry.CaptureException(err)
	})
}

// Flush sends buffered events, waiting at most timeout.
func Flush(timeout time.Duration) {
	if !enabled.Load() {
		return
	}
	if !sentry.Flush(timeout) {
		GetLogger().Warn("Sentry flush timed out", logger.Duration("timeout", timeout))
	}
}

// Shutdown flushes and disables reporting.
func Shutdown(timeout time.Duration) {
	Flush(timeout)
	errors.SetTelemetryReporter(nil)
	enabled.Store(false)
}
