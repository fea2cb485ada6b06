// Package api serves the HTTP status and control API for a running stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/model"
	"github.com/tphakala/pitchnet-go/internal/output"
	"github.com/tphakala/pitchnet-go/internal/stream"
)

const (
	apiPrefix              = "/api/v1"
	defaultShutdownTimeout = 5 * time.Second
	defaultCommandTimeout  = 15 * time.Second
	defaultHistoryLimit    = 100
	maxHistoryLimit        = 5000
)

// Stream is the read side of a stream controller.
type Stream interface {
	Status() stream.Status
	Models() ([]model.Metadata, error)
}

// Commander applies control commands. *stream.ControlQueue implements it.
type Commander interface {
	Submit(ctx context.Context, cmd stream.Command) (stream.Reply, error)
}

// Results exposes recently emitted results. *output.Latest implements it.
type Results interface {
	Get() (inference.Result, bool)
	Recent() []inference.Result
}

// History reads persisted results. *output.HistorySink implements it.
type History interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]output.PitchRecord, error)
}

// Config wires a Server. Stream and Commander are required; Results,
// History and Metrics are optional and their routes answer 404 when unset.
type Config struct {
	Listen         string
	InstanceName   string
	Stream         Stream
	Commander      Commander
	Results        Results
	History        History
	Metrics        http.Handler
	CommandTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	echo      *echo.Echo
	cfg       Config
	startTime time.Time
	log       logger.Logger
}

// New builds the server and registers all routes.
func New(cfg Config) *Server {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		cfg:       cfg,
		startTime: time.Now(),
		log:       GetLogger(),
	}

	e.Use(echomw.Recover())
	e.Use(s.requestLogger())
	e.HTTPErrorHandler = s.httpErrorHandler

	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.echo.GET("/health", s.GetHealth)
	if s.cfg.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.cfg.Metrics))
	}

	g := s.echo.Group(apiPrefix)
	g.GET("/status", s.GetStatus)
	g.GET("/result", s.GetLatestResult)
	g.GET("/results", s.GetRecentResults)
	g.GET("/history", s.GetHistory)
	g.GET("/models", s.GetModels)
	g.GET("/system", s.GetSystemInfo)

	control := g.Group("/control")
	control.GET("/actions", s.GetAvailableActions)
	control.POST("/model", s.SetModel)
	control.POST("/chunk-size", s.SetChunkSize)
	control.POST("/thresholds", s.SetThresholds)
	control.POST("/reset", s.Reset)
	control.POST("/dsp", s.SetDSPActive)
	control.POST("/force", s.ForceInference)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP API", logger.String("listen", s.cfg.Listen))
		if err := s.echo.Start(s.cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP API shutdown incomplete", logger.Error(err))
		return err
	}
	<-errCh
	s.log.Info("HTTP API stopped")
	return nil
}

// requestLogger logs completed requests at debug level and failures at warn.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,

		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("ip", v.RemoteIP),
			}
			if v.Error != nil {
				s.log.Warn("API request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			s.log.Debug("API request", fields...)
			return nil
		},
	})
}
