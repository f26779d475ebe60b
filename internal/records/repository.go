package records

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"papers-backend/internal/categorize"
	"papers-backend/internal/schema"
	"papers-backend/internal/shared/telemetry"
)

// Repository is the typed record layer. Every write that fails on a missing
// column triggers one schema repair and exactly one retry.
type Repository struct {
	Tables     Tables
	Reconciler *schema.Reconciler
	Log        *telemetry.Logger
	Now        func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(tables Tables, reconciler *schema.Reconciler, log *telemetry.Logger) *Repository {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Repository{
		Tables:     tables,
		Reconciler: reconciler,
		Log:        log.With("component", "records"),
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now()
}

// withRepair runs op; on a missing-column error it ensures the engine
// columns of table and runs op once more. A second missing-column failure is
// returned as *SchemaError naming the columns that are still absent.
func (r *Repository) withRepair(ctx context.Context, table string, written []string, op func() error) error {
	err := op()
	missing, ok := schema.MissingColumns(err)
	if !ok {
		return err
	}
	r.Log.Warn("records.missing_columns", "table", table, "columns", missing)
	r.repair(ctx, table)

	err = op()
	if err == nil {
		return nil
	}
	stillMissing, ok := schema.MissingColumns(err)
	if !ok {
		return err
	}
	return r.schemaError(ctx, table, written, stillMissing, err)
}

func (r *Repository) repair(ctx context.Context, table string) schema.Report {
	if r.Reconciler == nil {
		return schema.Report{Table: table}
	}
	return r.Reconciler.EnsureColumns(ctx, table, ColumnsFor(table))
}

// schemaError verifies which of the written columns are absent so the error
// names all of them, not only the first one the table service reported.
func (r *Repository) schemaError(ctx context.Context, table string, written, reported []string, cause error) *SchemaError {
	cols := reported
	if r.Reconciler != nil && len(written) > 0 {
		verified, err := r.Reconciler.Verify(ctx, table, written)
		if err != nil {
			r.Log.Warn("records.verify_failed", "table", table, "error", err)
		} else {
			cols = schema.Union(reported, verified)
		}
	}
	return &SchemaError{Table: table, Columns: schema.Union(cols), Err: cause}
}

// CreateDocument inserts a document, assigning id and timestamps when unset.
func (r *Repository) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	doc = r.prepareDocument(doc)
	row := documentRow(doc)
	err := r.withRepair(ctx, TableDocuments, sortedKeys(row), func() error {
		return r.Tables.Insert(ctx, TableDocuments, row)
	})
	if err != nil {
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// CreateDocumentPartial inserts a document without the named columns. It is
// the degraded write used after a SchemaError; it does not repair or retry.
// The returned document has the omitted fields cleared.
func (r *Repository) CreateDocumentPartial(ctx context.Context, doc Document, omit []string) (Document, error) {
	doc = r.prepareDocument(doc)
	row := documentRow(doc)
	for _, c := range omit {
		if c == "id" || c == "storage_key" || c == "bucket" {
			return Document{}, fmt.Errorf("create partial document: column %s is required", c)
		}
		delete(row, c)
	}
	if err := r.Tables.Insert(ctx, TableDocuments, row); err != nil {
		return Document{}, fmt.Errorf("create partial document: %w", err)
	}
	return documentFromRow(row), nil
}

func (r *Repository) prepareDocument(doc Document) Document {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := r.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if doc.Category == nil {
		c := categorize.Other
		doc.Category = &c
	}
	if doc.Status == nil {
		s := StatusPending
		doc.Status = &s
	}
	return doc
}

// UpdateDocument applies patch. Applying the same patch twice is harmless.
func (r *Repository) UpdateDocument(ctx context.Context, id string, patch DocumentPatch) error {
	if patch.Empty() {
		return nil
	}
	set := Row{"updated_at": r.now()}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Category != nil {
		set["category"] = string(*patch.Category)
	}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}
	if patch.PageCount != nil {
		set["page_count"] = int64(*patch.PageCount)
	}
	err := r.withRepair(ctx, TableDocuments, sortedKeys(set), func() error {
		return r.Tables.Update(ctx, TableDocuments, id, set)
	})
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	return nil
}

// selectRows streams q, repairing and restarting once if the first attempt
// fails on a missing column before any row was produced.
func (r *Repository) selectRows(ctx context.Context, table string, q Query) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		yielded := false
		for attempt := 0; ; attempt++ {
			restart := false
			for row, err := range r.Tables.Select(ctx, table, q) {
				if err == nil {
					yielded = true
					if !yield(row, nil) {
						return
					}
					continue
				}
				missing, ok := schema.MissingColumns(err)
				if ok && attempt == 0 && !yielded {
					r.Log.Warn("records.missing_columns", "table", table, "columns", missing)
					r.repair(ctx, table)
					restart = true
					break
				}
				if ok {
					err = r.schemaError(ctx, table, q.Columns, missing, err)
				}
				yield(nil, err)
				return
			}
			if !restart {
				return
			}
		}
	}
}

// GetDocument returns a live document.
func (r *Repository) GetDocument(ctx context.Context, id string) (Document, error) {
	q := Query{Columns: documentSelect, Equals: map[string]any{"id": id}}
	for row, err := range r.selectRows(ctx, TableDocuments, q) {
		if err != nil {
			return Document{}, fmt.Errorf("get document %s: %w", id, err)
		}
		return documentFromRow(row), nil
	}
	return Document{}, ErrNotFound
}

// FindDocumentByKey returns the document recorded for a blob, deleted or
// not. It returns ErrNotFound when the blob has no record.
func (r *Repository) FindDocumentByKey(ctx context.Context, bucket, key string) (Document, error) {
	q := Query{
		Columns:        documentSelect,
		Equals:         map[string]any{"bucket": bucket, "storage_key": key},
		IncludeDeleted: true,
	}
	for row, err := range r.selectRows(ctx, TableDocuments, q) {
		if err != nil {
			return Document{}, fmt.Errorf("find document %s/%s: %w", bucket, key, err)
		}
		return documentFromRow(row), nil
	}
	return Document{}, ErrNotFound
}

// ListDocuments yields documents newest first. Documents without a stored
// category match the other filter.
func (r *Repository) ListDocuments(ctx context.Context, f DocumentFilter) iter.Seq2[Document, error] {
	q := Query{
		Columns:        documentSelect,
		SearchColumn:   "title",
		Search:         f.Search,
		IncludeDeleted: f.IncludeDeleted,
	}
	return func(yield func(Document, error) bool) {
		for row, err := range r.selectRows(ctx, TableDocuments, q) {
			if err != nil {
				yield(Document{}, fmt.Errorf("list documents: %w", err))
				return
			}
			doc := documentFromRow(row)
			if f.Category != nil && doc.CategoryOrDefault() != *f.Category {
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// FindOrphanDocuments yields live documents with a null category, a null
// status or an empty title.
func (r *Repository) FindOrphanDocuments(ctx context.Context) iter.Seq2[Document, error] {
	q := Query{
		Columns:  documentSelect,
		AnyBlank: []string{"category", "status", "title"},
	}
	return func(yield func(Document, error) bool) {
		for row, err := range r.selectRows(ctx, TableDocuments, q) {
			if err != nil {
				yield(Document{}, fmt.Errorf("find orphan documents: %w", err))
				return
			}
			if !yield(documentFromRow(row), nil) {
				return
			}
		}
	}
}

// DeleteDocument soft-deletes a document and every live annotation of it.
// The document is marked deleted even when some annotations could not be;
// those are reported in a *PartialCascadeError.
func (r *Repository) DeleteDocument(ctx context.Context, id string) error {
	if _, err := r.GetDocument(ctx, id); err != nil {
		return err
	}

	var ids []string
	for a, err := range r.ListAnnotations(ctx, AnnotationFilter{DocumentID: id}) {
		if err != nil {
			return fmt.Errorf("delete document %s: %w", id, err)
		}
		ids = append(ids, a.ID)
	}

	cascade := &PartialCascadeError{DocumentID: id}
	for _, aid := range ids {
		if err := r.DeleteAnnotation(ctx, aid); err != nil {
			cascade.FailedAnnotationIDs = append(cascade.FailedAnnotationIDs, aid)
			cascade.Errs = append(cascade.Errs, err)
			r.Log.Error("records.cascade_delete_failed", "document_id", id, "annotation_id", aid, "error", err)
		}
	}

	now := r.now()
	if err := r.Tables.Update(ctx, TableDocuments, id, Row{"deleted_at": now, "updated_at": now}); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if len(cascade.FailedAnnotationIDs) > 0 {
		return cascade
	}
	return nil
}

// CreateAnnotation inserts an annotation with the same repair rule as documents.
func (r *Repository) CreateAnnotation(ctx context.Context, a Annotation) (Annotation, error) {
	if strings.TrimSpace(a.DocumentID) == "" {
		return Annotation{}, errors.New("create annotation: document id is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	if a.Status == nil {
		s := StatusCompleted
		a.Status = &s
	}
	row := annotationRow(a)
	err := r.withRepair(ctx, TableAnnotations, sortedKeys(row), func() error {
		return r.Tables.Insert(ctx, TableAnnotations, row)
	})
	if err != nil {
		return Annotation{}, fmt.Errorf("create annotation: %w", err)
	}
	return a, nil
}

// CreateAnnotationPartial inserts an annotation without the named columns,
// without repair or retry.
func (r *Repository) CreateAnnotationPartial(ctx context.Context, a Annotation, omit []string) (Annotation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
		a.UpdatedAt = a.CreatedAt
	}
	row := annotationRow(a)
	for _, c := range omit {
		if c == "id" || c == "document_id" || c == "storage_key" || c == "bucket" {
			return Annotation{}, fmt.Errorf("create partial annotation: column %s is required", c)
		}
		delete(row, c)
	}
	if err := r.Tables.Insert(ctx, TableAnnotations, row); err != nil {
		return Annotation{}, fmt.Errorf("create partial annotation: %w", err)
	}
	return annotationFromRow(row), nil
}

// UpdateAnnotation applies patch.
func (r *Repository) UpdateAnnotation(ctx context.Context, id string, patch AnnotationPatch) error {
	if patch.Content == nil && patch.Status == nil {
		return nil
	}
	set := Row{"updated_at": r.now()}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}
	err := r.withRepair(ctx, TableAnnotations, sortedKeys(set), func() error {
		return r.Tables.Update(ctx, TableAnnotations, id, set)
	})
	if err != nil {
		return fmt.Errorf("update annotation %s: %w", id, err)
	}
	return nil
}

// GetAnnotation returns a live annotation.
func (r *Repository) GetAnnotation(ctx context.Context, id string) (Annotation, error) {
	q := Query{Columns: annotationSelect, Equals: map[string]any{"id": id}}
	for row, err := range r.selectRows(ctx, TableAnnotations, q) {
		if err != nil {
			return Annotation{}, fmt.Errorf("get annotation %s: %w", id, err)
		}
		return annotationFromRow(row), nil
	}
	return Annotation{}, ErrNotFound
}

// ListAnnotations yields annotations newest first.
func (r *Repository) ListAnnotations(ctx context.Context, f AnnotationFilter) iter.Seq2[Annotation, error] {
	q := Query{Columns: annotationSelect, IncludeDeleted: f.IncludeDeleted}
	if f.DocumentID != "" {
		q.Equals = map[string]any{"document_id": f.DocumentID}
	}
	return func(yield func(Annotation, error) bool) {
		for row, err := range r.selectRows(ctx, TableAnnotations, q) {
			if err != nil {
				yield(Annotation{}, fmt.Errorf("list annotations: %w", err))
				return
			}
			if !yield(annotationFromRow(row), nil) {
				return
			}
		}
	}
}

// DeleteAnnotation soft-deletes one annotation.
func (r *Repository) DeleteAnnotation(ctx context.Context, id string) error {
	now := r.now()
	if err := r.Tables.Update(ctx, TableAnnotations, id, Row{"deleted_at": now, "updated_at": now}); err != nil {
		return fmt.Errorf("delete annotation %s: %w", id, err)
	}
	return nil
}
