package sweep

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"papers-backend/internal/shared/server/respond"
)

// ReportResponse is the JSON body of a sweep run.
type ReportResponse struct {
	RepairedOrphanBlobs        int      `json:"repairedOrphanBlobs"`
	MarkedFailedRecords        int      `json:"markedFailedRecords"`
	BackfilledRecords          int      `json:"backfilledRecords"`
	ResolvedCascadeAnnotations int      `json:"resolvedCascadeAnnotations"`
	UnmatchedAnnotationBlobs   int      `json:"unmatchedAnnotationBlobs"`
	SchemaFailures             []string `json:"schemaFailures,omitempty"`
	DurationMs                 int64    `json:"durationMs"`
}

func toResponse(r Report) ReportResponse {
	return ReportResponse{
		RepairedOrphanBlobs:        r.RepairedOrphanBlobs,
		MarkedFailedRecords:        r.MarkedFailedRecords,
		BackfilledRecords:          r.BackfilledRecords,
		ResolvedCascadeAnnotations: r.ResolvedCascadeAnnotations,
		UnmatchedAnnotationBlobs:   r.UnmatchedAnnotationBlobs,
		SchemaFailures:             r.SchemaFailures,
		DurationMs:                 r.Duration.Milliseconds(),
	}
}

// Handler exposes the sweep over HTTP.
type Handler struct {
	Sweeper *Sweeper
}

// NewHandler constructs a Handler.
func NewHandler(s *Sweeper) *Handler {
	return &Handler{Sweeper: s}
}

// RegisterRoutes attaches the admin sweep route.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/admin/sweep", h.run)
}

func (h *Handler) run(c *gin.Context) {
	rep, err := h.Sweeper.Run(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusServiceUnavailable, "sweep_failed", err.Error(), toResponse(rep))
		return
	}
	respond.OK(c, toResponse(rep))
}
