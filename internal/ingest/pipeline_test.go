package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papers-backend/internal/categorize"
	"papers-backend/internal/records"
	"papers-backend/internal/schema"
	"papers-backend/internal/shared/storage/object"
	"papers-backend/internal/shared/storage/object/memory"
)

var pdfBytes = []byte("%PDF-1.4\n% test payload\n")

type fixture struct {
	pipeline *Pipeline
	repo     *records.Repository
	tables   *records.MemoryTables
	backend  *memory.Store
	store    *object.Adapter
}

func newFixture(t *testing.T, tables *records.MemoryTables) fixture {
	t.Helper()
	backend := memory.New()
	store := object.NewAdapter(backend, object.NewDocumentBucket("papers"), object.NewDocumentBucket("solutions"))
	repo := records.NewRepository(tables, schema.NewReconciler(tables, nil), nil)
	p := New(store, repo, Options{ConflictBackoff: time.Millisecond}, nil)
	p.Now = func() time.Time { return time.UnixMilli(1714564800000).UTC() }
	return fixture{pipeline: p, repo: repo, tables: tables, backend: backend, store: store}
}

func pdfFile(name string) *File {
	return &File{Name: name, ContentType: object.ContentTypePDF, Size: int64(len(pdfBytes)), Body: bytes.NewReader(pdfBytes)}
}

func TestIngestDocumentRoundTrip(t *testing.T) {
	f := newFixture(t, records.NewMemoryTablesWithEngineColumns())
	ctx := context.Background()

	res, err := f.pipeline.IngestDocument(ctx, DocumentUpload{File: pdfFile("Final Exam 2023.pdf"), Title: "Final Exam 2023.pdf"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, categorize.Exam, res.Category)
	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, "1714564800000-Final Exam 2023.pdf", res.Key)
	assert.Equal(t, "/files/papers/1714564800000-Final%20Exam%202023.pdf", res.PublicURL)
	assert.Equal(t, []State{StateValidating, StateStoringBlob, StateReconcilingSchema, StateWritingRecord, StateCompleted}, res.States)

	rc, err := f.store.Get(ctx, "papers", res.Key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, pdfBytes, data)

	var found []records.Document
	for doc, err := range f.repo.ListDocuments(ctx, records.DocumentFilter{Category: records.Ptr(categorize.Exam)}) {
		require.NoError(t, err)
		found = append(found, doc)
	}
	require.Len(t, found, 1)
	assert.Equal(t, res.DocumentID, found[0].ID)
	assert.Equal(t, res.Key, found[0].StorageKey)
}

func TestIngestDocumentDegradesOnMissingColumn(t *testing.T) {
	tables := records.NewMemoryTablesWithEngineColumns()
	tables.DropColumn(records.TableDocuments, "category")
	tables.LockSchema(records.TableDocuments, true)
	f := newFixture(t, tables)

	res, err := f.pipeline.IngestDocument(context.Background(), DocumentUpload{File: pdfFile("exam.pdf"), Title: "Final Exam 2023"})
	require.NoError(t, err, "degraded is not an error")
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, []string{"category"}, res.MissingColumns)
	assert.Equal(t, 1, f.backend.Count("papers"), "blob must stay stored")
	assert.NotEmpty(t, res.DocumentID, "a partial record is written for the sweep")
	assert.Equal(t, 1, tables.Len(records.TableDocuments))
}

func TestIngestDocumentAdoptsRecordCreatedBySweep(t *testing.T) {
	tables := records.NewMemoryTablesWithEngineColumns()
	f := newFixture(t, tables)
	ctx := context.Background()

	// A sweep records the blob after it is stored and before the upload's
	// own insert lands.
	swept := false
	tables.OnInsert = func(table string, row records.Row) error {
		if table != records.TableDocuments || swept {
			return nil
		}
		swept = true
		other := categorize.Other
		_, err := f.repo.CreateDocument(ctx, records.Document{
			Title:      object.TitleFromKey(row["storage_key"].(string)),
			Bucket:     "papers",
			StorageKey: row["storage_key"].(string),
			Category:   &other,
		})
		return err
	}

	res, err := f.pipeline.IngestDocument(ctx, DocumentUpload{File: pdfFile("exam.pdf"), Title: "Final Exam 2023"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, tables.Len(records.TableDocuments))

	doc, err := f.repo.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Final Exam 2023", doc.Title)
	assert.Equal(t, categorize.Exam, doc.CategoryOrDefault())
	assert.Equal(t, records.StatusCompleted, doc.StatusOrDefault())
}

func TestIngestDocumentRetriesKeyConflict(t *testing.T) {
	f := newFixture(t, records.NewMemoryTablesWithEngineColumns())
	ctx := context.Background()

	_, err := f.store.Put(ctx, "papers", "1714564800000-exam.pdf", bytes.NewReader(pdfBytes), int64(len(pdfBytes)), object.ContentTypePDF)
	require.NoError(t, err)

	res, err := f.pipeline.IngestDocument(ctx, DocumentUpload{File: pdfFile("exam.pdf"), Title: "Exam"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "1714564800001-exam.pdf", res.Key)
	assert.Equal(t, 2, f.backend.Count("papers"))
}

func TestIngestDocumentGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t, records.NewMemoryTablesWithEngineColumns())
	attempts := 0
	f.backend.OnPut = func(bucket, key string) error {
		attempts++
		return object.ErrKeyConflict
	}

	res, err := f.pipeline.IngestDocument(context.Background(), DocumentUpload{File: pdfFile("exam.pdf"), Title: "Exam"})
	assert.ErrorIs(t, err, object.ErrKeyConflict)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, defaultKeyAttempts, attempts)
	assert.Equal(t, 0, f.tables.Len(records.TableDocuments))
}

func TestIngestDocumentStoreUnavailable(t *testing.T) {
	f := newFixture(t, records.NewMemoryTablesWithEngineColumns())
	f.backend.OnPut = func(bucket, key string) error {
		return errors.New("connection refused")
	}

	res, err := f.pipeline.IngestDocument(context.Background(), DocumentUpload{File: pdfFile("exam.pdf"), Title: "Exam"})
	assert.ErrorIs(t, err, object.ErrStoreUnavailable)
	assert.True(t, object.IsRetryable(err))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StateFailed, res.States[len(res.States)-1])
	assert.Equal(t, 0, f.tables.Len(records.TableDocuments), "no record for a blob that does not exist")
}

func TestIngestDocumentValidation(t *testing.T) {
	f := newFixture(t, records.NewMemoryTablesWithEngineColumns())
	ctx := context.Background()

	tests := []struct {
		name  string
		in    DocumentUpload
		check func(t *testing.T, err error)
	}{
		{
			name: "missing title",
			in:   DocumentUpload{File: pdfFile("a.pdf"), Title: "  "},
			check: func(t *testing.T, err error) {
				var v *ValidationError
				require.ErrorAs(t, err, &v)
				assert.Equal(t, "title", v.Field)
			},
		},
		{
			name: "missing file",
			in:   DocumentUpload{Title: "Exam"},
			check: func(t *testing.T, err error) {
				var v *ValidationError
				require.ErrorAs(t, err, &v)
				assert.Equal(t, "file", v.Field)
			},
		},
		{
			name: "empty file",
			in:   DocumentUpload{Title: "Exam", File: &File{Name: "a.pdf", ContentType: object.ContentTypePDF, Body: strings.NewReader("")}},
			check: func(t *testing.T, err error) {
				var v *ValidationError
				require.ErrorAs(t, err, &v)
			},
		},
		{
			name: "unsupported type",
			in:   DocumentUpload{Title: "Exam", File: &File{Name: "a.txt", ContentType: "text/plain", Size: 5, Body: strings.NewReader("hello")}},
			check: func(t *testing.T, err error) {
				var u *object.UnsupportedTypeError
				require.ErrorAs(t, err, &u)
			},
		},
		{
			name: "declared oversize",
			in:   DocumentUpload{Title: "Exam", File: &File{Name: "a.pdf", ContentType: object.ContentTypePDF, Size: object.DefaultMaxBytes + 1, Body: strings.NewReader("x")}},
			check: func(t *testing.T, err error) {
				var o *object.OversizeError
				require.ErrorAs(t, err, &o)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.pipeline.IngestDocument(ctx, tt.in)
			tt.check(t, err)
			assert.Equal(t, StatusFailed, res.Status)
		})
	}
	assert.Equal(t, 0, f.backend.Count("papers"), "validation failures must not store anything")
	assert.Equal(t, 0, f.tables.Len(records.TableDocuments))
}

func TestIngestDocumentAcceptsDocxSentAsZip(t *testing.T) {
	f := newFixture(t, records.NewMemoryTablesWithEngineColumns())

	res, err := f.pipeline.IngestDocument(context.Background(), DocumentUpload{
		Title: "Homework 3",
		File:  &File{Name: "hw3.docx", ContentType: "application/zip", Size: 4, Body: strings.NewReader("PK..")},
	})
	require.NoError(t, err)
	assert.Equal(t, object.ContentTypeDOCX, res.ContentType)
	assert.Equal(t, categorize.Assignment, res.Category)
}

func TestIngestAnnotation(t *testing.T) {
	f := newFixture(t, records.NewMemoryTables())
	ctx := context.Background()

	_, err := f.pipeline.IngestAnnotation(ctx, AnnotationUpload{File: pdfFile("q1.pdf"), DocumentID: "nope", QuestionLabel: "Q1"})
	var v *ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "documentId", v.Field)
	assert.Equal(t, 0, f.backend.Count("solutions"))

	paper, err := f.pipeline.IngestDocument(ctx, DocumentUpload{File: pdfFile("midterm.pdf"), Title: "Midterm"})
	require.NoError(t, err)

	_, err = f.pipeline.IngestAnnotation(ctx, AnnotationUpload{File: pdfFile("q1.pdf"), DocumentID: paper.DocumentID})
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "questionLabel", v.Field)

	res, err := f.pipeline.IngestAnnotation(ctx, AnnotationUpload{File: pdfFile("q1.pdf"), DocumentID: paper.DocumentID, QuestionLabel: "Q1", Content: "worked solution"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.NotEmpty(t, res.AnnotationID)
	assert.Equal(t, "solutions", res.Bucket)

	got, err := f.repo.GetAnnotation(ctx, res.AnnotationID)
	require.NoError(t, err)
	assert.Equal(t, paper.DocumentID, got.DocumentID)
	assert.Equal(t, "worked solution", got.Content)
}
