// Package ingest runs uploads through validation, blob storage and record
// creation, reporting a single result even when a later step fails.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"papers-backend/internal/categorize"
	"papers-backend/internal/extract"
	"papers-backend/internal/records"
	"papers-backend/internal/shared/metrics"
	"papers-backend/internal/shared/storage/object"
	"papers-backend/internal/shared/telemetry"
)

const (
	defaultKeyAttempts     = 3
	defaultConflictBackoff = 5 * time.Millisecond
)

// Options configures a Pipeline.
type Options struct {
	DocumentsBucket   string
	AnnotationsBucket string
	// KeyAttempts bounds how many keys are tried when the store rejects an
	// overwrite.
	KeyAttempts     int
	ConflictBackoff time.Duration
}

// Pipeline ingests papers and solutions.
type Pipeline struct {
	Store object.Store
	Repo  *records.Repository
	Opts  Options
	Log   *telemetry.Logger
	Now   func() time.Time
}

// New constructs a Pipeline.
func New(store object.Store, repo *records.Repository, opts Options, log *telemetry.Logger) *Pipeline {
	if opts.DocumentsBucket == "" {
		opts.DocumentsBucket = "papers"
	}
	if opts.AnnotationsBucket == "" {
		opts.AnnotationsBucket = "solutions"
	}
	if opts.KeyAttempts <= 0 {
		opts.KeyAttempts = defaultKeyAttempts
	}
	if opts.ConflictBackoff <= 0 {
		opts.ConflictBackoff = defaultConflictBackoff
	}
	if log == nil {
		log = telemetry.Nop()
	}
	return &Pipeline{
		Store: store,
		Repo:  repo,
		Opts:  opts,
		Log:   log.With("component", "ingest"),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// payload is a validated, fully read upload.
type payload struct {
	data        []byte
	fileName    string
	contentType string
	pageCount   *int
}

// IngestDocument stores a paper and records it. The error is non-nil exactly
// when the result status is failed.
func (p *Pipeline) IngestDocument(ctx context.Context, in DocumentUpload) (Result, error) {
	start := time.Now()
	res := Result{Kind: KindDocument, Bucket: p.Opts.DocumentsBucket}
	defer p.observe(&res, start)

	res.enter(StateValidating)
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return p.fail(&res, &ValidationError{Field: "title", Reason: "is required"})
	}
	pl, err := p.validate(ctx, p.Opts.DocumentsBucket, in.File)
	if err != nil {
		return p.fail(&res, err)
	}

	res.enter(StateStoringBlob)
	if err := p.store(ctx, &res, pl); err != nil {
		return p.fail(&res, err)
	}

	res.enter(StateReconcilingSchema)
	category := categorize.Categorize(title)
	res.Category = category
	res.PageCount = pl.pageCount

	res.enter(StateWritingRecord)
	status := records.StatusCompleted
	size := res.Size
	doc := records.Document{
		Title:       title,
		Bucket:      res.Bucket,
		StorageKey:  res.Key,
		ContentType: res.ContentType,
		SizeBytes:   &size,
		Category:    &category,
		Status:      &status,
		PageCount:   pl.pageCount,
		UserID:      in.UserID,
	}
	created, err := p.Repo.CreateDocument(ctx, doc)
	if records.IsDuplicate(err) {
		created, err = p.adopt(ctx, doc)
	}
	if err == nil {
		res.DocumentID = created.ID
		return p.complete(&res)
	}

	p.degrade(&res, err)
	var schemaErr *records.SchemaError
	if errors.As(err, &schemaErr) {
		partial, perr := p.Repo.CreateDocumentPartial(ctx, doc, schemaErr.Columns)
		if perr != nil {
			p.Log.Warn("ingest.partial_record_failed", "key", res.Key, "error", perr)
		} else {
			res.DocumentID = partial.ID
		}
	}
	return res, nil
}

// adopt takes over a record a sweep created for the blob after it was stored,
// overwriting the fields the sweep had to guess.
func (p *Pipeline) adopt(ctx context.Context, doc records.Document) (records.Document, error) {
	existing, err := p.Repo.FindDocumentByKey(ctx, doc.Bucket, doc.StorageKey)
	if err != nil {
		return records.Document{}, err
	}
	patch := records.DocumentPatch{
		Title:     &doc.Title,
		Category:  doc.Category,
		Status:    doc.Status,
		PageCount: doc.PageCount,
	}
	if err := p.Repo.UpdateDocument(ctx, existing.ID, patch); err != nil {
		return records.Document{}, err
	}
	p.Log.Info("ingest.record_adopted", "key", doc.StorageKey, "document_id", existing.ID)
	return existing, nil
}

// IngestAnnotation stores a solution for an existing paper and records it.
func (p *Pipeline) IngestAnnotation(ctx context.Context, in AnnotationUpload) (Result, error) {
	start := time.Now()
	res := Result{Kind: KindAnnotation, Bucket: p.Opts.AnnotationsBucket, DocumentID: strings.TrimSpace(in.DocumentID)}
	defer p.observe(&res, start)

	res.enter(StateValidating)
	label := strings.TrimSpace(in.QuestionLabel)
	if res.DocumentID == "" {
		return p.fail(&res, &ValidationError{Field: "documentId", Reason: "is required"})
	}
	if label == "" {
		return p.fail(&res, &ValidationError{Field: "questionLabel", Reason: "is required"})
	}
	if records.ValidID(res.DocumentID) != nil {
		return p.fail(&res, &ValidationError{Field: "documentId", Reason: "is not a valid paper id"})
	}
	parent, err := p.Repo.GetDocument(ctx, res.DocumentID)
	if errors.Is(err, records.ErrNotFound) {
		return p.fail(&res, &ValidationError{Field: "documentId", Reason: "does not reference an existing paper"})
	}
	if err != nil {
		return p.fail(&res, fmt.Errorf("look up paper: %w", err))
	}
	res.Category = parent.CategoryOrDefault()
	pl, err := p.validate(ctx, p.Opts.AnnotationsBucket, in.File)
	if err != nil {
		return p.fail(&res, err)
	}

	res.enter(StateStoringBlob)
	if err := p.store(ctx, &res, pl); err != nil {
		return p.fail(&res, err)
	}

	res.enter(StateWritingRecord)
	status := records.StatusCompleted
	size := res.Size
	a := records.Annotation{
		DocumentID:    res.DocumentID,
		QuestionLabel: label,
		Bucket:        res.Bucket,
		StorageKey:    res.Key,
		ContentType:   res.ContentType,
		SizeBytes:     &size,
		Content:       in.Content,
		Status:        &status,
		UserID:        in.UserID,
	}
	created, err := p.Repo.CreateAnnotation(ctx, a)
	if err == nil {
		res.AnnotationID = created.ID
		return p.complete(&res)
	}

	p.degrade(&res, err)
	var schemaErr *records.SchemaError
	if errors.As(err, &schemaErr) {
		partial, perr := p.Repo.CreateAnnotationPartial(ctx, a, schemaErr.Columns)
		if perr != nil {
			p.Log.Warn("ingest.partial_record_failed", "key", res.Key, "error", perr)
		} else {
			res.AnnotationID = partial.ID
		}
	}
	return res, nil
}

// validate reads the upload and checks it against the bucket policy.
func (p *Pipeline) validate(ctx context.Context, bucketName string, f *File) (payload, error) {
	if f == nil || f.Body == nil {
		return payload{}, &ValidationError{Field: "file", Reason: "is required"}
	}
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return payload{}, &ValidationError{Field: "file", Reason: "has no name"}
	}
	if _, err := object.DeriveKey(time.Time{}, name); err != nil {
		return payload{}, &ValidationError{Field: "file", Reason: "has an unusable name"}
	}
	bucket, err := p.Store.Bucket(bucketName)
	if err != nil {
		return payload{}, err
	}
	if f.Size > bucket.Limit() {
		return payload{}, &object.OversizeError{Bucket: bucket.Name, Size: f.Size, Limit: bucket.Limit()}
	}

	data, err := io.ReadAll(io.LimitReader(f.Body, bucket.Limit()+1))
	if err != nil {
		return payload{}, &ValidationError{Field: "file", Reason: "could not be read"}
	}
	if len(data) == 0 {
		return payload{}, &ValidationError{Field: "file", Reason: "is empty"}
	}

	md, err := extract.Inspect(ctx, data, f.ContentType, name)
	if err != nil {
		return payload{}, err
	}
	if err := bucket.Check(int64(len(data)), md.ContentType); err != nil {
		return payload{}, err
	}
	return payload{data: data, fileName: name, contentType: md.ContentType, pageCount: md.PageCount}, nil
}

// store writes the blob, deriving a later key whenever the store reports
// that the key is taken.
func (p *Pipeline) store(ctx context.Context, res *Result, pl payload) error {
	var last time.Time
	attempt := func() error {
		ts := p.Now()
		if !last.IsZero() && !ts.After(last) {
			ts = last.Add(time.Millisecond)
		}
		last = ts

		key, err := object.DeriveKey(ts, pl.fileName)
		if err != nil {
			return backoff.Permanent(err)
		}
		put, err := p.Store.Put(ctx, res.Bucket, key, bytes.NewReader(pl.data), int64(len(pl.data)), pl.contentType)
		if errors.Is(err, object.ErrKeyConflict) {
			p.Log.Info("ingest.key_conflict", "bucket", res.Bucket, "key", key)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		res.Key = put.Key
		res.Size = put.Size
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Opts.ConflictBackoff), uint64(p.Opts.KeyAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return object.Classify(err)
		}
		return err
	}
	res.ContentType = pl.contentType
	res.PublicURL = p.Store.PublicURL(res.Bucket, res.Key)
	return nil
}

func (p *Pipeline) complete(res *Result) (Result, error) {
	res.enter(StateCompleted)
	res.Status = StatusCompleted
	p.Log.Info("ingest.completed", "kind", res.Kind, "bucket", res.Bucket, "key", res.Key,
		"document_id", res.DocumentID, "annotation_id", res.AnnotationID)
	return *res, nil
}

// degrade records a record-write failure. The blob stays in place for the sweep.
func (p *Pipeline) degrade(res *Result, err error) {
	res.enter(StateCompleted)
	res.Status = StatusDegraded
	res.RecordError = err.Error()
	var schemaErr *records.SchemaError
	if errors.As(err, &schemaErr) {
		res.MissingColumns = append([]string(nil), schemaErr.Columns...)
	}
	p.Log.Warn("ingest.degraded", "kind", res.Kind, "bucket", res.Bucket, "key", res.Key,
		"missing_columns", res.MissingColumns, "error", err)
}

func (p *Pipeline) fail(res *Result, err error) (Result, error) {
	res.enter(StateFailed)
	res.Status = StatusFailed
	p.Log.Warn("ingest.failed", "kind", res.Kind, "bucket", res.Bucket, "error", err)
	return *res, err
}

func (p *Pipeline) observe(res *Result, start time.Time) {
	metrics.IncIngest(string(res.Kind), string(res.Status))
	metrics.ObserveIngestDurationMs(float64(time.Since(start)) / float64(time.Millisecond))
}
