package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kevin07696/escrow-service/internal/domain"
	"go.uber.org/zap"
)

// ErrorBody is the JSON error envelope
type ErrorBody struct {
	Code    domain.ErrorCode       `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// statusFor maps a domain error category to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthMissing):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAuthForbidden):
		return http.StatusForbidden
	case domain.IsValidationError(err):
		return http.StatusBadRequest
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	case domain.IsConflictError(err):
		return http.StatusConflict
	case domain.IsGatewayError(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON. Internal errors are logged and masked.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	body := ErrorBody{Code: domain.ErrorCodeInternalError, Message: "internal error"}

	var de *domain.DomainError
	if status != http.StatusInternalServerError && errors.As(err, &de) {
		body = ErrorBody{Code: de.Code, Message: de.Message, Details: de.Details}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// badRequest reports a malformed body
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrorBody{
		Code:    domain.ErrorCodeValidationFailed,
		Message: "malformed request body",
		Details: map[string]interface{}{"reason": err.Error()},
	}})
}
