package ingest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"papers-backend/internal/shared/server/middleware"
	"papers-backend/internal/shared/server/respond"
	"papers-backend/internal/shared/storage/object"
)

// multipart framing allowance on top of the largest bucket limit
const formOverhead = 1 << 20

// Handler wires upload routes to the pipeline.
type Handler struct {
	Pipeline     *Pipeline
	MaxBodyBytes int64
}

// NewHandler constructs a Handler that accepts bodies up to the larger of
// the two bucket limits.
func NewHandler(p *Pipeline) *Handler {
	limit := object.DefaultMaxBytes
	for _, name := range []string{p.Opts.DocumentsBucket, p.Opts.AnnotationsBucket} {
		if b, err := p.Store.Bucket(name); err == nil && b.Limit() > limit {
			limit = b.Limit()
		}
	}
	return &Handler{Pipeline: p, MaxBodyBytes: limit + formOverhead}
}

// RegisterRoutes attaches upload routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/papers", h.uploadPaper)
	rg.POST("/papers/:id/solutions", h.uploadSolution)
}

func (h *Handler) readFile(c *gin.Context) (*File, func(), bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBodyBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the upload limit", nil)
			return nil, nil, false
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", gin.H{"field": "file"})
		return nil, nil, false
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", gin.H{"field": "file"})
		return nil, nil, false
	}
	return &File{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        file,
	}, func() { _ = file.Close() }, true
}

func (h *Handler) uploadPaper(c *gin.Context) {
	f, closeFile, ok := h.readFile(c)
	if !ok {
		return
	}
	defer closeFile()

	res, err := h.Pipeline.IngestDocument(c.Request.Context(), DocumentUpload{
		File:   f,
		Title:  c.PostForm("title"),
		UserID: ownerID(c),
	})
	h.write(c, res, err)
}

func (h *Handler) uploadSolution(c *gin.Context) {
	f, closeFile, ok := h.readFile(c)
	if !ok {
		return
	}
	defer closeFile()

	res, err := h.Pipeline.IngestAnnotation(c.Request.Context(), AnnotationUpload{
		File:          f,
		DocumentID:    c.Param("id"),
		QuestionLabel: c.PostForm("questionLabel"),
		Content:       c.PostForm("content"),
		UserID:        ownerID(c),
	})
	h.write(c, res, err)
}

// ownerID reads the optional uploader reference. Absent means no owner.
func ownerID(c *gin.Context) *string {
	id := strings.TrimSpace(c.GetHeader("X-User-Id"))
	if id == "" {
		return nil
	}
	return &id
}

func (h *Handler) write(c *gin.Context, res Result, err error) {
	c.Set(middleware.IngestStatusKey, string(res.Status))
	c.Set(middleware.DocumentIDKey, res.DocumentID)
	c.Set(middleware.AnnotationIDKey, res.AnnotationID)
	if err != nil {
		var validation *ValidationError
		var oversize *object.OversizeError
		var unsupported *object.UnsupportedTypeError
		switch {
		case errors.As(err, &validation):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), gin.H{"field": validation.Field})
		case errors.As(err, &oversize):
			respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), nil)
		case errors.As(err, &unsupported):
			respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_type", err.Error(), gin.H{"contentType": unsupported.ContentType})
		case errors.Is(err, object.ErrPermissionDenied):
			respond.Error(c, http.StatusForbidden, "storage_permission_denied", "storage rejected the upload", nil)
		case errors.Is(err, object.ErrStoreUnavailable), errors.Is(err, object.ErrKeyConflict):
			respond.Error(c, http.StatusServiceUnavailable, "storage_unavailable", "storage is unavailable, retry the upload", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to ingest upload", nil)
		}
		return
	}

	if res.Status == StatusDegraded {
		respond.Accepted(c, toResponse(res))
		return
	}
	respond.Created(c, toResponse(res))
}
