package response

import (
	"net/http"

	"tabi/internal/apperror"
	"tabi/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ExposeDetails controls whether underlying causes reach clients. Enabled in development.
var ExposeDetails = false

// SuccessResponse is the body of a request that only reports success.
type SuccessResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message,omitempty" example:"Operation completed"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool `json:"success" example:"false"`

	// Machine readable error code
	// example: VALIDATION_ERROR
	Code string `json:"code"`

	// Human readable message
	// example: Invalid request body
	Message string `json:"message"`

	// Underlying cause, development only
	Details string `json:"details,omitempty"`
}

// TokenResponse is returned after a successful login or refresh.
type TokenResponse struct {
	Success bool `json:"success" example:"true"`

	// example: eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9...
	AccessToken string `json:"accessToken"`

	// example: eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9...
	RefreshToken string `json:"refreshToken"`
}

// OK writes a success envelope merged with payload.
func OK(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// Message writes a success envelope carrying only a message.
func Message(c *gin.Context, message string) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: message})
}

// Fail writes an error envelope with an explicit status.
func Fail(c *gin.Context, status int, code, message string, cause error) {
	body := ErrorResponse{Code: code, Message: message}
	if cause != nil && ExposeDetails {
		body.Details = cause.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

// ValidationFailed reports a request that could not be bound.
func ValidationFailed(c *gin.Context, err error) {
	Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", err)
}

// Error translates a service error into the status and body of its kind.
func Error(c *gin.Context, err error) {
	e, ok := apperror.As(err)
	if !ok {
		e = apperror.Unexpected("INTERNAL_ERROR", err)
	}

	status := apperror.HTTPStatus(e.Kind)
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", zap.String("code", e.Code), zap.Error(err))
		_ = c.Error(err)
	}

	Fail(c, status, e.Code, e.Message, e.Err)
}
