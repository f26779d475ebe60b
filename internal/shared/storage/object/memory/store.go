package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"papers-backend/internal/shared/storage/object"
)

// Store is an in-process object.Backend used for development and tests.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string]blob
	now     func() time.Time
	baseURL string

	// Fault hooks let tests simulate provider failures. A non-nil return value
	// aborts the operation with that error.
	OnPut    func(bucket, key string) error
	OnDelete func(bucket, key string) error
}

type blob struct {
	data        []byte
	contentType string
	createdAt   time.Time
}

// New constructs an empty store whose public URLs point at the server's
// /files route.
func New() *Store {
	return &Store{
		buckets: make(map[string]map[string]blob),
		now:     time.Now,
		baseURL: "/files",
	}
}

// WithBaseURL sets the prefix of public URLs. An empty value keeps the
// current one.
func (s *Store) WithBaseURL(base string) *Store {
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		s.baseURL = base
	}
	return s
}

// Put stores a copy of the reader contents.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, opts object.PutOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.OnPut != nil {
		if err := s.OnPut(bucket, key); err != nil {
			return 0, err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	objs, ok := s.buckets[bucket]
	if !ok {
		objs = make(map[string]blob)
		s.buckets[bucket] = objs
	}
	if _, exists := objs[key]; exists && !opts.Overwrite {
		return 0, object.ErrKeyConflict
	}
	objs[key] = blob{data: data, contentType: opts.ContentType, createdAt: s.now().UTC()}
	return int64(len(data)), nil
}

// Get returns a reader over a copy of the blob.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucket][key]
	if !ok {
		return nil, object.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(b.data))), nil
}

// List yields a snapshot of the bucket taken when iteration starts.
func (s *Store) List(ctx context.Context, bucket, prefix string) iter.Seq2[object.ObjectInfo, error] {
	return func(yield func(object.ObjectInfo, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(object.ObjectInfo{}, err)
			return
		}
		s.mu.RLock()
		infos := make([]object.ObjectInfo, 0, len(s.buckets[bucket]))
		for key, b := range s.buckets[bucket] {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			infos = append(infos, object.ObjectInfo{
				Key:         key,
				Size:        int64(len(b.data)),
				ContentType: b.contentType,
				CreatedAt:   b.createdAt,
			})
		}
		s.mu.RUnlock()

		sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
		for _, info := range infos {
			if !yield(info, nil) {
				return
			}
		}
	}
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.OnDelete != nil {
		if err := s.OnDelete(bucket, key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket][key]; !ok {
		return object.ErrNotFound
	}
	delete(s.buckets[bucket], key)
	return nil
}

// PublicURL returns the URL under which the HTTP server exposes the blob.
func (s *Store) PublicURL(bucket, key string) string {
	return s.baseURL + "/" + url.PathEscape(bucket) + "/" + object.EscapeKey(key)
}

// EnsureBucket registers an empty bucket.
func (s *Store) EnsureBucket(ctx context.Context, b object.Bucket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[b.Name]; !ok {
		s.buckets[b.Name] = make(map[string]blob)
	}
	return nil
}

// Count returns the number of blobs in bucket.
func (s *Store) Count(bucket string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[bucket])
}

var (
	_ object.Backend       = (*Store)(nil)
	_ object.BucketEnsurer = (*Store)(nil)
)
