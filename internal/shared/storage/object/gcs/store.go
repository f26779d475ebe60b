package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"papers-backend/internal/shared/storage/object"
)

// Options configures the Cloud Storage backend.
type Options struct {
	ProjectID     string
	EmulatorHost  string
	PublicBaseURL string
	// BucketNames maps logical bucket names to physical GCS buckets. Unmapped
	// buckets use the logical name.
	BucketNames map[string]string
}

// Store implements object.Backend on Google Cloud Storage.
type Store struct {
	client        *storage.Client
	projectID     string
	publicBaseURL string
	bucketNames   map[string]string
}

// New creates a Cloud Storage client. When an emulator host is configured the
// client connects without authentication.
func New(ctx context.Context, opts Options) (*Store, error) {
	var clientOpts []option.ClientOption
	emulator := strings.TrimRight(strings.TrimSpace(opts.EmulatorHost), "/")
	if emulator != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", emulator)
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	} else {
		clientOpts = append(clientOpts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	base := strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	if base == "" && emulator != "" {
		base = emulator
	}
	return &Store{
		client:        client,
		projectID:     strings.TrimSpace(opts.ProjectID),
		publicBaseURL: base,
		bucketNames:   opts.BucketNames,
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) physical(bucket string) string {
	if name, ok := s.bucketNames[bucket]; ok && name != "" {
		return name
	}
	return bucket
}

// Put streams the reader into the object. Without overwrite the write is
// conditioned on the object not existing yet.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, opts object.PutOptions) (int64, error) {
	obj := s.client.Bucket(s.physical(bucket)).Object(key)
	if !opts.Overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = opts.ContentType

	written, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return 0, classify(fmt.Errorf("failed to write data to GCS: %w", err))
	}
	if err := w.Close(); err != nil {
		return 0, classify(fmt.Errorf("failed to close GCS writer: %w", err))
	}
	return written, nil
}

// Get opens a reader on the object.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.physical(bucket)).Object(key).NewReader(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to open GCS reader: %w", err))
	}
	return rc, nil
}

// List iterates the bucket with the storage object iterator.
func (s *Store) List(ctx context.Context, bucket, prefix string) iter.Seq2[object.ObjectInfo, error] {
	return func(yield func(object.ObjectInfo, error) bool) {
		it := s.client.Bucket(s.physical(bucket)).Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(object.ObjectInfo{}, classify(err))
				return
			}
			info := object.ObjectInfo{
				Key:         attrs.Name,
				Size:        attrs.Size,
				ContentType: attrs.ContentType,
				CreatedAt:   attrs.Created.UTC(),
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}

// Delete removes the object.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := s.client.Bucket(s.physical(bucket)).Object(key).Delete(ctx); err != nil {
		return classify(fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, s.physical(bucket), err))
	}
	return nil
}

// PublicURL returns the object URL, honoring a configured base URL.
func (s *Store) PublicURL(bucket, key string) string {
	name := s.physical(bucket)
	key = object.EscapeKey(strings.TrimSpace(key))
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, name, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", url.PathEscape(name), key)
}

// EnsureBucket creates the bucket in the configured project when missing.
func (s *Store) EnsureBucket(ctx context.Context, b object.Bucket) error {
	handle := s.client.Bucket(s.physical(b.Name))
	_, err := handle.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return classify(err)
	}
	if s.projectID == "" {
		return fmt.Errorf("bucket %s does not exist and no project id is configured", s.physical(b.Name))
	}
	if err := handle.Create(ctx, s.projectID, nil); err != nil {
		return classify(fmt.Errorf("create bucket %s: %w", s.physical(b.Name), err))
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %w", object.ErrNotFound, err)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %w", object.ErrKeyConflict, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", object.ErrPermissionDenied, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", object.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%w: %w", object.ErrStoreUnavailable, err)
}

var (
	_ object.Backend       = (*Store)(nil)
	_ object.BucketEnsurer = (*Store)(nil)
)
