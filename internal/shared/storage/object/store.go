package object

import (
	"context"
	"io"
	"iter"
	"time"
)

// ObjectInfo describes one stored blob as reported by a listing.
type ObjectInfo struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	CreatedAt   time.Time
}

// PutOptions carries per-write settings resolved from the bucket policy.
type PutOptions struct {
	ContentType string
	Overwrite   bool
}

// PutResult reports where a blob landed.
type PutResult struct {
	Bucket string
	Key    string
	Size   int64
}

// Backend is implemented by each storage provider. Backends classify their
// failures into the sentinel errors of this package.
type Backend interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, opts PutOptions) (int64, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// List yields every object under prefix. The sequence is finite and may be
	// iterated again to re-list the bucket.
	List(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error]
	Delete(ctx context.Context, bucket, key string) error
	PublicURL(bucket, key string) string
}

// BucketEnsurer is implemented by backends that can create missing buckets.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context, b Bucket) error
}

// Store is the blob contract consumed by the ingestion pipeline and the sweep.
type Store interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (PutResult, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	List(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error]
	Delete(ctx context.Context, bucket, key string) error
	PublicURL(bucket, key string) string
	Bucket(name string) (Bucket, error)
}
