package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apperrors "github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/model"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an error body with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// HandleError logs err with a correlation id and writes it as JSON.
func (s *Server) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("API error", fields...)
	} else {
		s.log.Info("API request rejected", fields...)
	}
	return ctx.JSON(code, resp)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNoCandidate):
		return http.StatusNotFound
	case apperrors.IsCategory(err, apperrors.CategoryValidation):
		return http.StatusBadRequest
	case apperrors.IsCategory(err, apperrors.CategoryNotFound):
		return http.StatusNotFound
	case apperrors.IsCategory(err, apperrors.CategoryModelLoad):
		return http.StatusUnprocessableEntity
	case apperrors.IsCategory(err, apperrors.CategoryState):
		return http.StatusConflict
	case apperrors.IsCategory(err, apperrors.CategoryTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// httpErrorHandler renders echo's own errors (unknown routes, bad methods)
// in the same shape as handler errors.
func (s *Server) httpErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	}
	if writeErr := ctx.JSON(code, NewErrorResponse(nil, message, code)); writeErr != nil {
		s.log.Warn("failed to write error response", logger.Error(writeErr))
	}
}
