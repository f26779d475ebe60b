package files

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"papers-backend/internal/shared/server/respond"
	"papers-backend/internal/shared/storage/object"
)

// EntryResponse is one blob in a listing.
type EntryResponse struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	FileName    string    `json:"fileName"`
	Size        int64     `json:"size"`
	SizeHuman   string    `json:"sizeHuman"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
	PublicURL   string    `json:"publicUrl"`
}

// ListResponse is the body of GET /files.
type ListResponse struct {
	Files []EntryResponse `json:"files"`
	Total int             `json:"total"`
}

// Handler serves and lists blobs.
type Handler struct {
	Source Source
}

// NewHandler constructs a Handler.
func NewHandler(src Source) *Handler {
	return &Handler{Source: src}
}

// RegisterRoutes attaches the admin listing.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/files", h.list)
}

// RegisterPublicRoutes attaches the download route backing the public URLs
// of the local and memory backends.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.GET("/:bucket/*key", h.serve)
}

func (h *Handler) list(c *gin.Context) {
	entries, err := List(c.Request.Context(), h.Source, Filter{
		Bucket:   c.Query("bucket"),
		FileType: c.Query("fileType"),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidFilter) {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), gin.H{"fileTypes": FileTypes()})
			return
		}
		respond.Error(c, http.StatusServiceUnavailable, "storage_unavailable", "failed to list files", nil)
		return
	}

	out := ListResponse{Files: make([]EntryResponse, 0, len(entries)), Total: len(entries)}
	for _, e := range entries {
		out.Files = append(out.Files, EntryResponse{
			Bucket:      e.Bucket,
			Key:         e.Key,
			FileName:    FileName(e.Key),
			Size:        e.Size,
			SizeHuman:   humanize.IBytes(uint64(e.Size)),
			ContentType: e.ContentType,
			CreatedAt:   e.CreatedAt,
			PublicURL:   e.PublicURL,
		})
	}
	respond.OK(c, out)
}

func (h *Handler) serve(c *gin.Context) {
	bucketName := c.Param("bucket")
	key := strings.TrimPrefix(c.Param("key"), "/")
	bucket, err := h.Source.Bucket(bucketName)
	if err != nil || !bucket.Public || key == "" || path.Clean("/"+key) != "/"+key {
		respond.Error(c, http.StatusNotFound, "not_found", "file not found", nil)
		return
	}

	reader, err := h.Source.Get(c.Request.Context(), bucketName, key)
	if err != nil {
		switch {
		case errors.Is(err, object.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "file not found", nil)
		case errors.Is(err, object.ErrPermissionDenied):
			respond.Error(c, http.StatusForbidden, "storage_permission_denied", "storage refused the read", nil)
		case errors.Is(err, object.ErrStoreUnavailable):
			respond.Error(c, http.StatusServiceUnavailable, "storage_unavailable", "storage is unavailable", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load file", nil)
		}
		return
	}
	defer reader.Close()

	contentType := object.ContentTypeFromName(key)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": FileName(key)}))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, reader)
}
