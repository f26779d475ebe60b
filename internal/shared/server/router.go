package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"papers-backend/internal/files"
	"papers-backend/internal/ingest"
	"papers-backend/internal/records"
	"papers-backend/internal/services/health"
	"papers-backend/internal/shared/config"
	"papers-backend/internal/shared/metrics"
	"papers-backend/internal/shared/server/middleware"
	"papers-backend/internal/sweep"
)

// RouterDeps carries the handlers registered on the engine. Nil handlers
// are skipped.
type RouterDeps struct {
	Config        config.Config
	Health        *health.Service
	RecordHandler *records.Handler
	IngestHandler *ingest.Handler
	SweepHandler  *sweep.Handler
	FilesHandler  *files.Handler
	Limiter       *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			GroupFor: rateLimitGroup,
			Limiter:  deps.Limiter,
			Rules: map[string]middleware.RateLimitRule{
				middleware.UploadRateLimitGroup: {
					Rate:  deps.Config.UploadRatePerMin / 60,
					Burst: deps.Config.UploadRateBurst,
				},
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())
	if deps.FilesHandler != nil {
		deps.FilesHandler.RegisterPublicRoutes(r.Group("/files"))
	}

	api := r.Group("/api/v1")
	if deps.Health != nil {
		deps.Health.RegisterRoutes(api)
	} else {
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})
	}
	if deps.RecordHandler != nil {
		deps.RecordHandler.RegisterRoutes(api)
	}
	if deps.IngestHandler != nil {
		deps.IngestHandler.RegisterRoutes(api)
	}
	if deps.SweepHandler != nil {
		deps.SweepHandler.RegisterRoutes(api)
	}
	if deps.FilesHandler != nil {
		deps.FilesHandler.RegisterRoutes(api)
	}

	return r
}

func rateLimitGroup(c *gin.Context) string {
	if c.Request.Method != http.MethodPost {
		return ""
	}
	switch c.FullPath() {
	case "/api/v1/papers", "/api/v1/papers/:id/solutions":
		return middleware.UploadRateLimitGroup
	}
	return ""
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
