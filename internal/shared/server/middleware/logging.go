package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"papers-backend/internal/shared/telemetry"
)

// Context keys handlers may set so the request log carries domain ids.
const (
	DocumentIDKey   = "documentId"
	AnnotationIDKey = "annotationId"
	IngestStatusKey = "ingestStatus"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		telemetry.Info("request.complete", map[string]any{
			"request_id":    RequestIDFromContext(c),
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"route":         c.FullPath(),
			"status":        c.Writer.Status(),
			"ingest_status": c.GetString(IngestStatusKey),
			"duration_ms":   float64(latency.Microseconds()) / 1000.0,
			"document_id":   c.GetString(DocumentIDKey),
			"annotation_id": c.GetString(AnnotationIDKey),
			"client_ip":     c.ClientIP(),
			"user_agent":    c.Request.UserAgent(),
		})
	}
}
