package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorMapping struct {
	status  int
	short   string
	message string
}

// mapServiceError translates a failure kind into a response. Messages for denied
// and bad-token requests are fixed so responses never reveal the reason.
func mapServiceError(err error) errorMapping {
	var transitionErr *scoring.TransitionError
	switch {
	case errors.As(err, &transitionErr):
		return errorMapping{status: http.StatusConflict, short: "invalid_state_transition", message: transitionErr.Error()}
	case errors.Is(err, scoring.ErrNotFound):
		return errorMapping{status: http.StatusNotFound, short: "not_found", message: "not found"}
	case errors.Is(err, scoring.ErrInvalidStateTransition):
		return errorMapping{status: http.StatusConflict, short: "invalid_state_transition", message: "invalid state transition"}
	case errors.Is(err, scoring.ErrMatchNotActive):
		return errorMapping{status: http.StatusConflict, short: "match_not_active", message: "match is not accepting changes"}
	case errors.Is(err, scoring.ErrPointAlreadyUndone):
		return errorMapping{status: http.StatusConflict, short: "point_already_undone", message: "point already undone"}
	case errors.Is(err, scoring.ErrPermissionDenied), errors.Is(err, permissions.ErrNotPermitted):
		return errorMapping{status: http.StatusForbidden, short: "permission_denied", message: "not permitted"}
	case errors.Is(err, scoring.ErrInvalidToken):
		return errorMapping{status: http.StatusUnauthorized, short: "invalid_token", message: "invalid token"}
	case errors.Is(err, scoring.ErrValidation), errors.Is(err, permissions.ErrInvalidAssignment):
		return errorMapping{status: http.StatusBadRequest, short: "validation_failed", message: validationMessage(err)}
	case errors.Is(err, permissions.ErrNotFound):
		return errorMapping{status: http.StatusNotFound, short: "not_found", message: "not found"}
	default:
		return errorMapping{status: http.StatusInternalServerError, short: "persistence_failure", message: "internal error"}
	}
}

func validationMessage(err error) string {
	var serviceErr *scoring.ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Unwrap() != nil {
		return serviceErr.Unwrap().Error()
	}
	return err.Error()
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	mapping := mapServiceError(err)
	payload := errorPayload{Error: mapping.short, Message: mapping.message}

	var serviceErr *scoring.ServiceError
	if errors.As(err, &serviceErr) {
		payload.Code = serviceErr.Code()
		payload.Retryable = serviceErr.Retryable()
	}
	if mapping.status == http.StatusInternalServerError && payload.Retryable {
		mapping.status = http.StatusServiceUnavailable
	}

	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", mapping.status),
		zap.String("code", payload.Code),
		zap.Error(err),
	}
	if mapping.status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	c.AbortWithStatusJSON(mapping.status, payload)
}

func (h *httpHandler) respondInvalidRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: message})
}
