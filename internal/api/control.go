package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/pitchnet-go/internal/stream"
)

// ControlAction describes one available control endpoint.
type ControlAction struct {
	Action      stream.Action `json:"action"`
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Description string        `json:"description"`
}

// ModelRequest is the body of POST /control/model.
type ModelRequest struct {
	Path string `json:"path"`
}

// ChunkSizeRequest is the body of POST /control/chunk-size.
type ChunkSizeRequest struct {
	Size int `json:"size"`
}

// ThresholdsRequest is the body of POST /control/thresholds. Omitted fields
// are left unchanged.
type ThresholdsRequest struct {
	Confidence *float64 `json:"confidence,omitempty"`
	Amplitude  *float64 `json:"amplitude,omitempty"`
}

// DSPRequest is the body of POST /control/dsp.
type DSPRequest struct {
	Active *bool `json:"active"`
}

// GetAvailableActions handles GET /api/v1/control/actions
func (s *Server) GetAvailableActions(ctx echo.Context) error {
	base := apiPrefix + "/control"
	return ctx.JSON(http.StatusOK, []ControlAction{
		{stream.ActionSetModel, http.MethodPost, base + "/model", "Load a model file and swap it in"},
		{stream.ActionSetChunkSize, http.MethodPost, base + "/chunk-size", "Switch to the best model for a chunk size"},
		{stream.ActionSetConfidence, http.MethodPost, base + "/thresholds", "Set the confidence and amplitude thresholds"},
		{stream.ActionReset, http.MethodPost, base + "/reset", "Clear buffered audio and flush model state"},
		{stream.ActionSetDSPActive, http.MethodPost, base + "/dsp", "Start or stop accepting audio"},
		{stream.ActionForceInference, http.MethodPost, base + "/force", "Run an inference now"},
	})
}

// SetModel handles POST /api/v1/control/model
func (s *Server) SetModel(ctx echo.Context) error {
	var req ModelRequest
	if err := ctx.Bind(&req); err != nil {
		return s.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.Path == "" {
		return s.HandleError(ctx, nil, "path is required", http.StatusBadRequest)
	}
	return s.submit(ctx, stream.Command{Action: stream.ActionSetModel, Path: req.Path})
}

// SetChunkSize handles POST /api/v1/control/chunk-size
func (s *Server) SetChunkSize(ctx echo.Context) error {
	var req ChunkSizeRequest
	if err := ctx.Bind(&req); err != nil {
		return s.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.Size <= 0 {
		return s.HandleError(ctx, nil, "size must be a positive integer", http.StatusBadRequest)
	}
	return s.submit(ctx, stream.Command{Action: stream.ActionSetChunkSize, Size: req.Size})
}

// SetThresholds handles POST /api/v1/control/thresholds
func (s *Server) SetThresholds(ctx echo.Context) error {
	var req ThresholdsRequest
	if err := ctx.Bind(&req); err != nil {
		return s.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.Confidence == nil && req.Amplitude == nil {
		return s.HandleError(ctx, nil, "confidence or amplitude is required", http.StatusBadRequest)
	}
	for _, v := range []*float64{req.Confidence, req.Amplitude} {
		if v != nil && (*v < 0 || *v > 1) {
			return s.HandleError(ctx, nil, "thresholds must be between 0 and 1", http.StatusBadRequest)
		}
	}

	var cmds []stream.Command
	if req.Confidence != nil {
		cmds = append(cmds, stream.Command{Action: stream.ActionSetConfidence, Value: *req.Confidence})
	}
	if req.Amplitude != nil {
		cmds = append(cmds, stream.Command{Action: stream.ActionSetAmplitude, Value: *req.Amplitude})
	}

	var reply stream.Reply
	for _, cmd := range cmds {
		var err error
		if reply, err = s.apply(ctx, cmd); err != nil {
			return s.HandleError(ctx, err, "Failed to apply "+string(cmd.Action), statusFor(err))
		}
	}
	return ctx.JSON(http.StatusOK, reply)
}

// Reset handles POST /api/v1/control/reset
func (s *Server) Reset(ctx echo.Context) error {
	return s.submit(ctx, stream.Command{Action: stream.ActionReset})
}

// SetDSPActive handles POST /api/v1/control/dsp
func (s *Server) SetDSPActive(ctx echo.Context) error {
	var req DSPRequest
	if err := ctx.Bind(&req); err != nil {
		return s.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.Active == nil {
		return s.HandleError(ctx, nil, "active is required", http.StatusBadRequest)
	}
	return s.submit(ctx, stream.Command{Action: stream.ActionSetDSPActive, Active: *req.Active})
}

// ForceInference handles POST /api/v1/control/force
func (s *Server) ForceInference(ctx echo.Context) error {
	return s.submit(ctx, stream.Command{Action: stream.ActionForceInference})
}

func (s *Server) submit(ctx echo.Context, cmd stream.Command) error {
	reply, err := s.apply(ctx, cmd)
	if err != nil {
		return s.HandleError(ctx, err, "Failed to apply "+string(cmd.Action), statusFor(err))
	}
	return ctx.JSON(http.StatusOK, reply)
}

func (s *Server) apply(ctx echo.Context, cmd stream.Command) (stream.Reply, error) {
	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), s.cfg.CommandTimeout)
	defer cancel()
	return s.cfg.Commander.Submit(reqCtx, cmd)
}
