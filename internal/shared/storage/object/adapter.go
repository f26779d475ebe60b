package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
)

// Adapter enforces bucket policy in front of a Backend and normalizes its
// errors. Policy violations are reported before the backend is contacted.
type Adapter struct {
	backend Backend
	buckets Buckets
}

// NewAdapter wraps backend with the given bucket declarations.
func NewAdapter(backend Backend, buckets ...Bucket) *Adapter {
	return &Adapter{backend: backend, buckets: NewBuckets(buckets...)}
}

// Bucket returns the declared bucket.
func (a *Adapter) Bucket(name string) (Bucket, error) {
	return a.buckets.Lookup(name)
}

// Buckets returns the declared buckets ordered by name.
func (a *Adapter) Buckets() []Bucket {
	out := make([]Bucket, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put validates the write against the bucket policy and stores the blob. A
// negative size means unknown; the body is then buffered up to the limit.
func (a *Adapter) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (PutResult, error) {
	b, err := a.buckets.Lookup(bucket)
	if err != nil {
		return PutResult{}, err
	}
	if err := b.Check(size, contentType); err != nil {
		return PutResult{}, err
	}
	if size < 0 {
		data, err := io.ReadAll(io.LimitReader(r, b.Limit()+1))
		if err != nil {
			return PutResult{}, fmt.Errorf("read body: %w", err)
		}
		if int64(len(data)) > b.Limit() {
			return PutResult{}, &OversizeError{Bucket: b.Name, Size: int64(len(data)), Limit: b.Limit()}
		}
		r = bytes.NewReader(data)
	}
	if err := ctx.Err(); err != nil {
		return PutResult{}, Classify(err)
	}

	written, err := a.backend.Put(ctx, bucket, key, r, PutOptions{
		ContentType: NormalizeContentType(contentType),
		Overwrite:   b.AllowOverwrite,
	})
	if err != nil {
		return PutResult{}, Classify(fmt.Errorf("put %s/%s: %w", bucket, key, err))
	}
	return PutResult{Bucket: bucket, Key: key, Size: written}, nil
}

// Get opens a stored blob for reading.
func (a *Adapter) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if _, err := a.buckets.Lookup(bucket); err != nil {
		return nil, err
	}
	rc, err := a.backend.Get(ctx, bucket, key)
	if err != nil {
		return nil, Classify(fmt.Errorf("get %s/%s: %w", bucket, key, err))
	}
	return rc, nil
}

// List yields the objects of bucket under prefix.
func (a *Adapter) List(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		if _, err := a.buckets.Lookup(bucket); err != nil {
			yield(ObjectInfo{}, err)
			return
		}
		for info, err := range a.backend.List(ctx, bucket, prefix) {
			if err != nil {
				yield(ObjectInfo{}, Classify(fmt.Errorf("list %s: %w", bucket, err)))
				return
			}
			info.Bucket = bucket
			if !yield(info, nil) {
				return
			}
		}
	}
}

// Delete removes a blob. A missing blob yields ErrNotFound.
func (a *Adapter) Delete(ctx context.Context, bucket, key string) error {
	if _, err := a.buckets.Lookup(bucket); err != nil {
		return err
	}
	if err := a.backend.Delete(ctx, bucket, key); err != nil {
		return Classify(fmt.Errorf("delete %s/%s: %w", bucket, key, err))
	}
	return nil
}

// PublicURL returns the externally reachable URL of a blob.
func (a *Adapter) PublicURL(bucket, key string) string {
	return a.backend.PublicURL(bucket, key)
}

// EnsureBuckets creates the declared buckets when the backend supports it.
func (a *Adapter) EnsureBuckets(ctx context.Context) error {
	ensurer, ok := a.backend.(BucketEnsurer)
	if !ok {
		return nil
	}
	for _, b := range a.Buckets() {
		if err := ensurer.EnsureBucket(ctx, b); err != nil {
			return Classify(fmt.Errorf("ensure bucket %s: %w", b.Name, err))
		}
	}
	return nil
}

var _ Store = (*Adapter)(nil)
