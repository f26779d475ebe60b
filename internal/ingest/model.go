package ingest

import (
	"fmt"
	"io"

	"papers-backend/internal/categorize"
)

// Kind is the entity an upload creates.
type Kind string

const (
	KindDocument   Kind = "document"
	KindAnnotation Kind = "annotation"
)

// State is a step of the per-upload state machine.
type State string

const (
	StateValidating        State = "validating"
	StateStoringBlob       State = "storing_blob"
	StateReconcilingSchema State = "reconciling_schema"
	StateWritingRecord     State = "writing_record"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// Status is the overall outcome reported to the caller.
type Status string

const (
	StatusCompleted Status = "completed"
	// StatusDegraded means the blob is stored but the record is missing or
	// incomplete; the sweep finishes it.
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// File is an uploaded payload. Size is -1 when unknown.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// DocumentUpload is the input of IngestDocument.
type DocumentUpload struct {
	File   *File
	Title  string
	UserID *string
}

// AnnotationUpload is the input of IngestAnnotation.
type AnnotationUpload struct {
	File          *File
	DocumentID    string
	QuestionLabel string
	Content       string
	UserID        *string
}

// Result is the definitive outcome of one ingestion.
type Result struct {
	Kind           Kind
	Status         Status
	DocumentID     string
	AnnotationID   string
	Category       categorize.Category
	MissingColumns []string
	Bucket         string
	Key            string
	Size           int64
	ContentType    string
	PageCount      *int
	PublicURL      string
	States         []State
	// RecordError describes why the record write degraded.
	RecordError string
}

func (r *Result) enter(s State) {
	r.States = append(r.States, s)
}

// ValidationError reports malformed caller input. Nothing was persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
