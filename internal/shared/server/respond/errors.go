package respond

import (
	"github.com/gin-gonic/gin"

	"papers-backend/internal/shared/telemetry"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "requestId"

// ErrorBody is the error object returned by every endpoint. RequestID
// matches the X-Request-Id response header and the access log line.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error logs the failure and aborts with the error envelope.
func Error(c *gin.Context, status int, code, message string, details any) {
	reqID := c.GetString(RequestIDKey)
	telemetry.Error("http.error", map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": reqID,
	})

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: reqID,
		},
	})
}
