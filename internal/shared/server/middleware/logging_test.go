package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"papers-backend/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zap.DebugLevel)
	prev := telemetry.L()
	telemetry.SetDefault(&telemetry.Logger{SugaredLogger: zap.New(core).Sugar()})
	t.Cleanup(func() { telemetry.SetDefault(prev) })

	router := gin.New()
	router.Use(RequestID(), Logging())
	router.POST("/papers", func(c *gin.Context) {
		c.Set(DocumentIDKey, "doc-1")
		c.Set(IngestStatusKey, "degraded")
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/papers", nil)
	req.Header.Set("X-Request-Id", "req-42")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	entries := logs.FilterMessage("request.complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 request log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()

	required := []string{"request_id", "document_id", "annotation_id", "duration_ms", "status", "ingest_status", "route"}
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if fields["request_id"] != "req-42" {
		t.Fatalf("unexpected request_id: %v", fields["request_id"])
	}
	if fields["document_id"] != "doc-1" {
		t.Fatalf("unexpected document_id: %v", fields["document_id"])
	}
	if fields["ingest_status"] != "degraded" {
		t.Fatalf("unexpected ingest_status: %v", fields["ingest_status"])
	}
	if fields["status"] != int64(http.StatusAccepted) {
		t.Fatalf("unexpected status: %v", fields["status"])
	}
}
