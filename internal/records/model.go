package records

import (
	"time"

	"papers-backend/internal/categorize"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Document is one uploaded paper. Pointer fields are columns that may be
// NULL, either because the value is unknown or because the column did not
// exist when the row was written.
type Document struct {
	ID          string
	Title       string
	Bucket      string
	StorageKey  string
	ContentType string
	SizeBytes   *int64
	Category    *categorize.Category
	Status      *Status
	PageCount   *int
	UserID      *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// CategoryOrDefault returns the stored category, or other when unset.
func (d Document) CategoryOrDefault() categorize.Category {
	if d.Category == nil {
		return categorize.Other
	}
	return categorize.Parse(string(*d.Category))
}

// StatusOrDefault returns the stored status, or pending when unset.
func (d Document) StatusOrDefault() Status {
	if d.Status == nil {
		return StatusPending
	}
	return *d.Status
}

// Deleted reports whether the document was soft-deleted.
func (d Document) Deleted() bool { return d.DeletedAt != nil }

// NeedsBackfill reports whether a required field is missing.
func (d Document) NeedsBackfill() bool {
	return d.Category == nil || d.Status == nil || d.Title == ""
}

// DocumentPatch lists the fields to change; nil fields are left alone.
type DocumentPatch struct {
	Title     *string
	Category  *categorize.Category
	Status    *Status
	PageCount *int
}

// Empty reports whether the patch changes nothing.
func (p DocumentPatch) Empty() bool {
	return p.Title == nil && p.Category == nil && p.Status == nil && p.PageCount == nil
}

// Annotation is a solution attached to a document.
type Annotation struct {
	ID            string
	DocumentID    string
	QuestionLabel string
	Bucket        string
	StorageKey    string
	ContentType   string
	SizeBytes     *int64
	Content       string
	Status        *Status
	UserID        *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// StatusOrDefault returns the stored status, or completed when unset.
func (a Annotation) StatusOrDefault() Status {
	if a.Status == nil {
		return StatusCompleted
	}
	return *a.Status
}

// Deleted reports whether the annotation was soft-deleted.
func (a Annotation) Deleted() bool { return a.DeletedAt != nil }

// AnnotationPatch lists the annotation fields to change.
type AnnotationPatch struct {
	Content *string
	Status  *Status
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	Category       *categorize.Category
	Search         string
	IncludeDeleted bool
}

// AnnotationFilter narrows ListAnnotations. An empty DocumentID lists all.
type AnnotationFilter struct {
	DocumentID     string
	IncludeDeleted bool
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
