package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/model"
	"github.com/tphakala/pitchnet-go/internal/output"
	"github.com/tphakala/pitchnet-go/internal/stream"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Instance    string `json:"instance,omitempty"`
	WorkerState string `json:"workerState"`
	ModelLoaded bool   `json:"modelLoaded"`
	Uptime      int64  `json:"uptimeSeconds"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Instance string        `json:"instance,omitempty"`
	Stream   stream.Status `json:"stream"`
	Uptime   int64         `json:"uptimeSeconds"`
}

// ModelsResponse is returned by GET /api/v1/models.
type ModelsResponse struct {
	Active     *model.Info      `json:"active,omitempty"`
	Candidates []model.Metadata `json:"candidates"`
}

// GetHealth handles GET /health. A stream without a model is reported as
// degraded with status 503.
func (s *Server) GetHealth(ctx echo.Context) error {
	st := s.cfg.Stream.Status()
	resp := HealthResponse{
		Status:      "ok",
		Instance:    s.cfg.InstanceName,
		WorkerState: st.WorkerState,
		ModelLoaded: st.ModelLoaded,
		Uptime:      int64(time.Since(s.startTime).Seconds()),
	}
	code := http.StatusOK
	if !st.ModelLoaded {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, resp)
}

// GetStatus handles GET /api/v1/status
func (s *Server) GetStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, StatusResponse{
		Instance: s.cfg.InstanceName,
		Stream:   s.cfg.Stream.Status(),
		Uptime:   int64(time.Since(s.startTime).Seconds()),
	})
}

// GetLatestResult handles GET /api/v1/result
func (s *Server) GetLatestResult(ctx echo.Context) error {
	if s.cfg.Results == nil {
		return s.HandleError(ctx, nil, "Result tracking is disabled", http.StatusNotFound)
	}
	r, ok := s.cfg.Results.Get()
	if !ok {
		return s.HandleError(ctx, nil, "No result has been produced yet", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, r)
}

// GetRecentResults handles GET /api/v1/results
func (s *Server) GetRecentResults(ctx echo.Context) error {
	if s.cfg.Results == nil {
		return s.HandleError(ctx, nil, "Result tracking is disabled", http.StatusNotFound)
	}
	recent := s.cfg.Results.Recent()
	if recent == nil {
		recent = []inference.Result{}
	}
	return ctx.JSON(http.StatusOK, recent)
}

// GetHistory handles GET /api/v1/history?limit=N&session=ID. The session
// defaults to the running stream.
func (s *Server) GetHistory(ctx echo.Context) error {
	if s.cfg.History == nil {
		return s.HandleError(ctx, nil, "Result history is disabled", http.StatusNotFound)
	}

	limit := defaultHistoryLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return s.HandleError(ctx, err, "limit must be a positive integer", http.StatusBadRequest)
		}
		limit = min(n, maxHistoryLimit)
	}
	session := ctx.QueryParam("session")
	if session == "" {
		session = s.cfg.Stream.Status().SessionID
	}

	records, err := s.cfg.History.Recent(ctx.Request().Context(), session, limit)
	if err != nil {
		return s.HandleError(ctx, err, "Failed to read result history", http.StatusInternalServerError)
	}
	if records == nil {
		records = []output.PitchRecord{}
	}
	return ctx.JSON(http.StatusOK, records)
}

// GetModels handles GET /api/v1/models
func (s *Server) GetModels(ctx echo.Context) error {
	candidates, err := s.cfg.Stream.Models()
	if err != nil {
		return s.HandleError(ctx, err, "Failed to list models", statusFor(err))
	}
	if candidates == nil {
		candidates = []model.Metadata{}
	}
	resp := ModelsResponse{Candidates: candidates}
	if st := s.cfg.Stream.Status(); st.ModelLoaded {
		active := st.Model
		resp.Active = &active
	}
	return ctx.JSON(http.StatusOK, resp)
}
