package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/contacts"
	"omnichat-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Error codes are namespaced by area, e.g. "core:not_found".
const (
	CodeUnauthorized     = "core:unauthorized"
	CodeForbidden        = "core:forbidden"
	CodeInvalidRequest   = "core:invalid_request"
	CodeValidationFailed = "core:validation_failed"
	CodeNotFound         = "core:not_found"
	CodeConflict         = "core:conflict"
	CodeUpstreamFailed   = "core:upstream_failed"
	CodeInternalError    = "core:internal_error"
	CodeNotConfigured    = "core:not_configured"
)

// APIError is the JSON error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": APIError{Code: code, Message: message}})
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case apperr.IsValidation(err), errors.Is(err, contacts.ErrInvalidContact), errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest, CodeValidationFailed
	case apperr.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case apperr.IsConflict(err):
		return http.StatusConflict, CodeConflict
	case apperr.IsTransport(err), errors.Is(err, apperr.ErrRetryExhausted):
		return http.StatusBadGateway, CodeUpstreamFailed
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

func writeError(c *gin.Context, log *slog.Logger, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "err", err)
		msg = "internal error"
	}
	abort(c, status, code, msg)
}
