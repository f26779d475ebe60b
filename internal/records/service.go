package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"papers-backend/internal/categorize"
	"papers-backend/internal/shared/storage/object"
	"papers-backend/internal/shared/telemetry"
)

// ErrInvalidInput is returned for malformed identifiers or filters.
var ErrInvalidInput = errors.New("invalid input")

// ValidID rejects identifiers that cannot name a record.
func ValidID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: id %q is not a uuid", ErrInvalidInput, id)
	}
	return nil
}

// Service serves browsing and explicit deletion of papers and solutions.
type Service struct {
	Repo  *Repository
	Store object.Store
	Log   *telemetry.Logger
}

// NewService constructs a Service.
func NewService(repo *Repository, store object.Store, log *telemetry.Logger) *Service {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Service{Repo: repo, Store: store, Log: log.With("component", "records.service")}
}

// AnnotationView is an annotation with its download URL.
type AnnotationView struct {
	Annotation
	PublicURL string
}

// DocumentView is a document with its download URL and live annotations.
type DocumentView struct {
	Document
	PublicURL   string
	Annotations []AnnotationView
}

// CategoryGroup holds the documents of one category.
type CategoryGroup struct {
	Category  categorize.Category
	Documents []DocumentView
}

// Browse lists documents matching f grouped by category in priority order.
// Empty groups are omitted.
func (s *Service) Browse(ctx context.Context, f DocumentFilter) ([]CategoryGroup, error) {
	var docs []Document
	for doc, err := range s.Repo.ListDocuments(ctx, f) {
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return []CategoryGroup{}, nil
	}

	byDoc := map[string][]AnnotationView{}
	for a, err := range s.Repo.ListAnnotations(ctx, AnnotationFilter{}) {
		if err != nil {
			return nil, err
		}
		byDoc[a.DocumentID] = append(byDoc[a.DocumentID], s.annotationView(a))
	}

	grouped := map[categorize.Category][]DocumentView{}
	for _, doc := range docs {
		view := s.documentView(doc)
		view.Annotations = byDoc[doc.ID]
		c := doc.CategoryOrDefault()
		grouped[c] = append(grouped[c], view)
	}

	out := make([]CategoryGroup, 0, len(grouped))
	for _, c := range categorize.All {
		if views := grouped[c]; len(views) > 0 {
			out = append(out, CategoryGroup{Category: c, Documents: views})
		}
	}
	return out, nil
}

// Get returns one live document with its annotations.
func (s *Service) Get(ctx context.Context, id string) (DocumentView, error) {
	if err := ValidID(id); err != nil {
		return DocumentView{}, err
	}
	doc, err := s.Repo.GetDocument(ctx, id)
	if err != nil {
		return DocumentView{}, err
	}
	view := s.documentView(doc)
	for a, err := range s.Repo.ListAnnotations(ctx, AnnotationFilter{DocumentID: id}) {
		if err != nil {
			return DocumentView{}, err
		}
		view.Annotations = append(view.Annotations, s.annotationView(a))
	}
	return view, nil
}

// DeleteResult reports what an explicit document delete removed.
type DeleteResult struct {
	DocumentID          string
	DeletedAnnotations  []string
	FailedAnnotationIDs []string
	RetainedBlobs       []string
}

// DeleteDocument removes a document, its annotations and their blobs. Records
// are soft-deleted first; a blob that cannot be removed stays referenced by
// its deleted record and is listed in RetainedBlobs. A partial cascade is
// returned as *PartialCascadeError alongside the result.
func (s *Service) DeleteDocument(ctx context.Context, id string) (DeleteResult, error) {
	if err := ValidID(id); err != nil {
		return DeleteResult{}, err
	}
	doc, err := s.Repo.GetDocument(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	var annotations []Annotation
	for a, err := range s.Repo.ListAnnotations(ctx, AnnotationFilter{DocumentID: id}) {
		if err != nil {
			return DeleteResult{}, err
		}
		annotations = append(annotations, a)
	}

	res := DeleteResult{DocumentID: id}
	delErr := s.Repo.DeleteDocument(ctx, id)
	var cascade *PartialCascadeError
	if delErr != nil && !errors.As(delErr, &cascade) {
		return DeleteResult{}, delErr
	}
	failed := map[string]bool{}
	if cascade != nil {
		res.FailedAnnotationIDs = cascade.FailedAnnotationIDs
		for _, aid := range cascade.FailedAnnotationIDs {
			failed[aid] = true
		}
	}

	for _, a := range annotations {
		if failed[a.ID] {
			continue
		}
		res.DeletedAnnotations = append(res.DeletedAnnotations, a.ID)
		if !s.removeBlob(ctx, a.Bucket, a.StorageKey) {
			res.RetainedBlobs = append(res.RetainedBlobs, a.Bucket+"/"+a.StorageKey)
		}
	}
	if !s.removeBlob(ctx, doc.Bucket, doc.StorageKey) {
		res.RetainedBlobs = append(res.RetainedBlobs, doc.Bucket+"/"+doc.StorageKey)
	}

	s.Log.Info("records.document_deleted",
		"document_id", id,
		"annotations", len(res.DeletedAnnotations),
		"failed_annotations", len(res.FailedAnnotationIDs),
		"retained_blobs", len(res.RetainedBlobs),
	)
	return res, delErr
}

// DeleteAnnotation removes one annotation and its blob.
func (s *Service) DeleteAnnotation(ctx context.Context, id string) error {
	if err := ValidID(id); err != nil {
		return err
	}
	a, err := s.Repo.GetAnnotation(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteAnnotation(ctx, id); err != nil {
		return err
	}
	s.removeBlob(ctx, a.Bucket, a.StorageKey)
	return nil
}

// removeBlob deletes a blob, treating an already-missing blob as removed.
func (s *Service) removeBlob(ctx context.Context, bucket, key string) bool {
	if s.Store == nil || key == "" {
		return true
	}
	err := s.Store.Delete(ctx, bucket, key)
	if err == nil || errors.Is(err, object.ErrNotFound) {
		return true
	}
	s.Log.Warn("records.blob_delete_failed", "bucket", bucket, "key", key, "error", err)
	return false
}

func (s *Service) documentView(doc Document) DocumentView {
	return DocumentView{Document: doc, PublicURL: s.publicURL(doc.Bucket, doc.StorageKey)}
}

func (s *Service) annotationView(a Annotation) AnnotationView {
	return AnnotationView{Annotation: a, PublicURL: s.publicURL(a.Bucket, a.StorageKey)}
}

func (s *Service) publicURL(bucket, key string) string {
	if s.Store == nil || key == "" {
		return ""
	}
	return s.Store.PublicURL(bucket, key)
}

// ParseFilter builds a DocumentFilter from query-string values.
func ParseFilter(category, search string) (DocumentFilter, error) {
	f := DocumentFilter{Search: strings.TrimSpace(search)}
	raw := strings.ToLower(strings.TrimSpace(category))
	if raw == "" || raw == "all" {
		return f, nil
	}
	c, ok := categorize.ParseFilter(raw)
	if !ok {
		return DocumentFilter{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, category)
	}
	f.Category = &c
	return f, nil
}
