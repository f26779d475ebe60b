// Package sweep reconciles stored blobs with their records.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"papers-backend/internal/categorize"
	"papers-backend/internal/records"
	"papers-backend/internal/schema"
	"papers-backend/internal/shared/metrics"
	"papers-backend/internal/shared/storage/object"
	"papers-backend/internal/shared/telemetry"
)

// Report counts the repairs made by one run.
type Report struct {
	RepairedOrphanBlobs int
	MarkedFailedRecords int
	BackfilledRecords   int
	// ResolvedCascadeAnnotations are live annotations of deleted or missing
	// papers that the run deleted.
	ResolvedCascadeAnnotations int
	// UnmatchedAnnotationBlobs are solution blobs without a record. They are
	// left alone because the owning paper cannot be inferred from the key.
	UnmatchedAnnotationBlobs int
	SchemaFailures           []string
	Duration                 time.Duration
}

// Changes returns the number of records the run created or modified.
func (r Report) Changes() int {
	return r.RepairedOrphanBlobs + r.MarkedFailedRecords + r.BackfilledRecords + r.ResolvedCascadeAnnotations
}

// Sweeper runs consistency sweeps.
type Sweeper struct {
	Store             object.Store
	Repo              *records.Repository
	Reconciler        *schema.Reconciler
	DocumentsBucket   string
	AnnotationsBucket string
	Log               *telemetry.Logger
}

// New constructs a Sweeper.
func New(store object.Store, repo *records.Repository, reconciler *schema.Reconciler, documentsBucket, annotationsBucket string, log *telemetry.Logger) *Sweeper {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Sweeper{
		Store:             store,
		Repo:              repo,
		Reconciler:        reconciler,
		DocumentsBucket:   documentsBucket,
		AnnotationsBucket: annotationsBucket,
		Log:               log.With("component", "sweep"),
	}
}

type snapshot struct {
	documentBlobs   map[string]object.ObjectInfo
	annotationBlobs map[string]object.ObjectInfo
	documents       []records.Document
	annotations     []records.Annotation
}

func blobKey(bucket, key string) string { return bucket + "/" + key }

// Run performs one full reconciliation. It creates records for orphan paper
// blobs, finishes interrupted cascade deletes, marks live records whose blob
// is gone as failed and backfills records with missing required fields. It
// never deletes blobs and only soft-deletes annotations whose paper is gone.
// A second run without intervening writes changes nothing.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report

	for _, table := range []string{records.TableDocuments, records.TableAnnotations} {
		if s.Reconciler == nil {
			break
		}
		res := s.Reconciler.EnsureColumns(ctx, table, records.ColumnsFor(table))
		for _, c := range res.FailedColumns() {
			rep.SchemaFailures = append(rep.SchemaFailures, table+"."+c)
		}
	}

	snap, err := s.load(ctx)
	if err != nil {
		return rep, err
	}

	if err := s.recordOrphanBlobs(ctx, snap, &rep); err != nil {
		return rep, err
	}
	if err := s.resolveCascades(ctx, &snap, &rep); err != nil {
		return rep, err
	}
	if err := s.markMissingBlobs(ctx, snap, &rep); err != nil {
		return rep, err
	}
	if err := s.backfill(ctx, snap, &rep); err != nil {
		return rep, err
	}

	rep.Duration = time.Since(start)
	metrics.ObserveSweep(rep.RepairedOrphanBlobs, rep.MarkedFailedRecords, rep.BackfilledRecords)
	metrics.AddSweepResolvedCascades(rep.ResolvedCascadeAnnotations)
	s.Log.Info("sweep.completed",
		"repaired_orphan_blobs", rep.RepairedOrphanBlobs,
		"marked_failed_records", rep.MarkedFailedRecords,
		"backfilled_records", rep.BackfilledRecords,
		"resolved_cascade_annotations", rep.ResolvedCascadeAnnotations,
		"unmatched_annotation_blobs", rep.UnmatchedAnnotationBlobs,
		"schema_failures", rep.SchemaFailures,
		"duration_ms", rep.Duration.Milliseconds(),
	)
	return rep, nil
}

// load lists both buckets and both tables concurrently. Soft-deleted records
// are included so that their retained blobs are not treated as orphans.
func (s *Sweeper) load(ctx context.Context) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		blobs, err := s.listBucket(gctx, s.DocumentsBucket)
		snap.documentBlobs = blobs
		return err
	})
	g.Go(func() error {
		blobs, err := s.listBucket(gctx, s.AnnotationsBucket)
		snap.annotationBlobs = blobs
		return err
	})
	g.Go(func() error {
		for doc, err := range s.Repo.ListDocuments(gctx, records.DocumentFilter{IncludeDeleted: true}) {
			if err != nil {
				return err
			}
			snap.documents = append(snap.documents, doc)
		}
		return nil
	})
	g.Go(func() error {
		for a, err := range s.Repo.ListAnnotations(gctx, records.AnnotationFilter{IncludeDeleted: true}) {
			if err != nil {
				return err
			}
			snap.annotations = append(snap.annotations, a)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return snapshot{}, fmt.Errorf("sweep: load: %w", err)
	}
	return snap, nil
}

func (s *Sweeper) listBucket(ctx context.Context, bucket string) (map[string]object.ObjectInfo, error) {
	out := map[string]object.ObjectInfo{}
	for info, err := range s.Store.List(ctx, bucket, "") {
		if err != nil {
			return nil, err
		}
		out[blobKey(bucket, info.Key)] = info
	}
	return out, nil
}

func (s *Sweeper) recordOrphanBlobs(ctx context.Context, snap snapshot, rep *Report) error {
	referenced := make(map[string]bool, len(snap.documents)+len(snap.annotations))
	for _, d := range snap.documents {
		referenced[blobKey(d.Bucket, d.StorageKey)] = true
	}
	for _, a := range snap.annotations {
		referenced[blobKey(a.Bucket, a.StorageKey)] = true
	}

	for k, info := range snap.annotationBlobs {
		if !referenced[k] {
			rep.UnmatchedAnnotationBlobs++
			s.Log.Debug("sweep.unmatched_annotation_blob", "key", info.Key)
		}
	}

	for k, info := range snap.documentBlobs {
		if referenced[k] {
			continue
		}
		// The listings are not atomic; an upload may have recorded the blob
		// since, or another sweep may have.
		if existing, err := s.Repo.FindDocumentByKey(ctx, s.DocumentsBucket, info.Key); err == nil {
			s.Log.Debug("sweep.orphan_blob_already_recorded", "key", info.Key, "document_id", existing.ID)
			continue
		} else if !errors.Is(err, records.ErrNotFound) {
			return fmt.Errorf("sweep: look up blob %s: %w", info.Key, err)
		}

		title := object.TitleFromKey(info.Key)
		other := categorize.Other
		completed := records.StatusCompleted
		size := info.Size
		doc := records.Document{
			Title:       title,
			Bucket:      s.DocumentsBucket,
			StorageKey:  info.Key,
			ContentType: info.ContentType,
			SizeBytes:   &size,
			Category:    &other,
			Status:      &completed,
		}
		if !info.CreatedAt.IsZero() {
			doc.CreatedAt = info.CreatedAt.UTC()
		}
		created, err := s.Repo.CreateDocument(ctx, doc)
		var schemaErr *records.SchemaError
		if errors.As(err, &schemaErr) {
			created, err = s.Repo.CreateDocumentPartial(ctx, doc, schemaErr.Columns)
		}
		if records.IsDuplicate(err) {
			s.Log.Debug("sweep.orphan_blob_already_recorded", "key", info.Key)
			continue
		}
		if err != nil {
			return fmt.Errorf("sweep: record orphan blob %s: %w", info.Key, err)
		}
		rep.RepairedOrphanBlobs++
		s.Log.Info("sweep.orphan_blob_recorded", "key", info.Key, "document_id", created.ID)
	}
	return nil
}

// resolveCascades deletes live annotations whose paper is deleted or has no
// record. A paper missing from the snapshot may have been created after the
// listing, so every candidate is looked up again first.
func (s *Sweeper) resolveCascades(ctx context.Context, snap *snapshot, rep *Report) error {
	deleted := make(map[string]bool, len(snap.documents))
	for _, d := range snap.documents {
		deleted[d.ID] = d.Deleted()
	}

	for i, a := range snap.annotations {
		if a.Deleted() {
			continue
		}
		if gone, listed := deleted[a.DocumentID]; listed && !gone {
			continue
		}
		_, err := s.Repo.GetDocument(ctx, a.DocumentID)
		if err == nil {
			continue
		}
		if !errors.Is(err, records.ErrNotFound) {
			return fmt.Errorf("sweep: look up paper %s: %w", a.DocumentID, err)
		}
		if err := s.Repo.DeleteAnnotation(ctx, a.ID); err != nil {
			return fmt.Errorf("sweep: resolve cascade for annotation %s: %w", a.ID, err)
		}
		now := time.Now().UTC()
		snap.annotations[i].DeletedAt = &now
		rep.ResolvedCascadeAnnotations++
		s.Log.Info("sweep.cascade_resolved", "annotation_id", a.ID, "document_id", a.DocumentID)
	}
	return nil
}

func (s *Sweeper) markMissingBlobs(ctx context.Context, snap snapshot, rep *Report) error {
	listed := func(bucket string) map[string]object.ObjectInfo {
		switch bucket {
		case s.DocumentsBucket:
			return snap.documentBlobs
		case s.AnnotationsBucket:
			return snap.annotationBlobs
		default:
			return nil
		}
	}
	failed := records.StatusFailed

	for _, d := range snap.documents {
		blobs := listed(d.Bucket)
		if d.Deleted() || blobs == nil || d.Status != nil && *d.Status == records.StatusFailed {
			continue
		}
		if _, ok := blobs[blobKey(d.Bucket, d.StorageKey)]; ok {
			continue
		}
		if err := s.Repo.UpdateDocument(ctx, d.ID, records.DocumentPatch{Status: &failed}); err != nil {
			return fmt.Errorf("sweep: mark document %s failed: %w", d.ID, err)
		}
		rep.MarkedFailedRecords++
		s.Log.Warn("sweep.document_blob_missing", "document_id", d.ID, "key", d.StorageKey)
	}

	for _, a := range snap.annotations {
		blobs := listed(a.Bucket)
		if a.Deleted() || blobs == nil || a.StatusOrDefault() == records.StatusFailed {
			continue
		}
		if _, ok := blobs[blobKey(a.Bucket, a.StorageKey)]; ok {
			continue
		}
		if err := s.Repo.UpdateAnnotation(ctx, a.ID, records.AnnotationPatch{Status: &failed}); err != nil {
			return fmt.Errorf("sweep: mark annotation %s failed: %w", a.ID, err)
		}
		rep.MarkedFailedRecords++
		s.Log.Warn("sweep.annotation_blob_missing", "annotation_id", a.ID, "key", a.StorageKey)
	}
	return nil
}

// backfill fills null required fields. It re-reads the orphan set so that
// records created or marked earlier in this run are seen in their new state.
func (s *Sweeper) backfill(ctx context.Context, snap snapshot, rep *Report) error {
	var orphans []records.Document
	for doc, err := range s.Repo.FindOrphanDocuments(ctx) {
		if err != nil {
			return fmt.Errorf("sweep: find orphan documents: %w", err)
		}
		orphans = append(orphans, doc)
	}

	for _, d := range orphans {
		var patch records.DocumentPatch
		title := d.Title
		if title == "" {
			title = object.TitleFromKey(d.StorageKey)
			if title != "" {
				patch.Title = &title
			}
		}
		if d.Category == nil {
			c := categorize.Categorize(title)
			patch.Category = &c
		}
		if d.Status == nil {
			st := records.StatusCompleted
			if d.Bucket == s.DocumentsBucket {
				if _, ok := snap.documentBlobs[blobKey(d.Bucket, d.StorageKey)]; !ok {
					st = records.StatusFailed
				}
			}
			patch.Status = &st
		}
		if patch.Empty() {
			continue
		}
		if err := s.Repo.UpdateDocument(ctx, d.ID, patch); err != nil {
			return fmt.Errorf("sweep: backfill document %s: %w", d.ID, err)
		}
		rep.BackfilledRecords++
		s.Log.Info("sweep.document_backfilled", "document_id", d.ID)
	}
	return nil
}
