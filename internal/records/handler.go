package records

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"papers-backend/internal/shared/server/respond"
)

// Handler wires browse and delete routes to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches paper and solution routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/papers", h.list)
	rg.GET("/papers/:id", h.get)
	rg.DELETE("/papers/:id", h.deleteDocument)
	rg.DELETE("/solutions/:id", h.deleteAnnotation)
}

func (h *Handler) list(c *gin.Context) {
	filter, err := ParseFilter(c.Query("category"), c.Query("search"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	groups, err := h.Svc.Browse(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err, "failed to list papers")
		return
	}
	respond.OK(c, toBrowseResponse(groups))
}

func (h *Handler) get(c *gin.Context) {
	view, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to fetch paper")
		return
	}
	respond.OK(c, toDocumentResponse(view))
}

func (h *Handler) deleteDocument(c *gin.Context) {
	res, err := h.Svc.DeleteDocument(c.Request.Context(), c.Param("id"))
	var cascade *PartialCascadeError
	if err != nil && !errors.As(err, &cascade) {
		h.fail(c, err, "failed to delete paper")
		return
	}
	respond.OK(c, DeleteResponse{
		DocumentID:          res.DocumentID,
		Deleted:             true,
		DeletedSolutions:    res.DeletedAnnotations,
		FailedAnnotationIDs: res.FailedAnnotationIDs,
		RetainedBlobs:       res.RetainedBlobs,
	})
}

func (h *Handler) deleteAnnotation(c *gin.Context) {
	if err := h.Svc.DeleteAnnotation(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, "failed to delete solution")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	var schemaErr *SchemaError
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "record not found", nil)
	case errors.As(err, &schemaErr):
		respond.Error(c, http.StatusServiceUnavailable, "schema_error", msg, gin.H{"missingColumns": schemaErr.Columns})
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}
