package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"papers-backend/internal/shared/storage/object"
)

// Store implements object.Backend using the local filesystem. Each bucket is a
// directory under baseDir.
type Store struct {
	baseDir       string
	publicBaseURL string
}

// New creates a new local object store rooted at baseDir. Public URLs are
// built from publicBaseURL, which defaults to "/files".
func New(baseDir, publicBaseURL string) *Store {
	publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if publicBaseURL == "" {
		publicBaseURL = "/files"
	}
	return &Store{baseDir: baseDir, publicBaseURL: publicBaseURL}
}

// stagingDir holds partial writes. It sits beside the bucket directories so a
// bucket listing never sees an incomplete file.
const stagingDir = ".staging"

// Put writes the reader to a staging file and moves it to bucket/key only
// once the whole body is on disk.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, opts object.PutOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fullPath, err := s.resolve(bucket, key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, classify(fmt.Errorf("mkdir: %w", err))
	}
	staging := filepath.Join(s.baseDir, stagingDir)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return 0, classify(fmt.Errorf("mkdir: %w", err))
	}

	tmp, err := os.CreateTemp(staging, "put-*")
	if err != nil {
		return 0, classify(fmt.Errorf("create staging file: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, classify(fmt.Errorf("write body: %w", err))
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return 0, classify(fmt.Errorf("chmod: %w", err))
	}

	// Link fails when the key exists, which keeps the no-overwrite check
	// atomic; rename replaces it.
	if opts.Overwrite {
		err = os.Rename(tmpPath, fullPath)
	} else {
		err = os.Link(tmpPath, fullPath)
	}
	if err != nil {
		return 0, classify(fmt.Errorf("commit: %w", err))
	}
	return written, nil
}

// Get opens a stored object for reading.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, classify(err)
	}
	return f, nil
}

// List walks the bucket directory. Keys are yielded in lexical order.
func (s *Store) List(ctx context.Context, bucket, prefix string) iter.Seq2[object.ObjectInfo, error] {
	return func(yield func(object.ObjectInfo, error) bool) {
		root, err := s.resolve(bucket, "")
		if err != nil {
			yield(object.ObjectInfo{}, err)
			return
		}
		var infos []object.ObjectInfo
		walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && p == root {
					return filepath.SkipDir
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if !strings.HasPrefix(key, prefix) {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			infos = append(infos, object.ObjectInfo{
				Key:         key,
				Size:        fi.Size(),
				ContentType: mime.TypeByExtension(path.Ext(key)),
				CreatedAt:   fi.ModTime().UTC(),
			})
			return nil
		})
		if walkErr != nil {
			yield(object.ObjectInfo{}, classify(walkErr))
			return
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
		for _, info := range infos {
			if !yield(info, nil) {
				return
			}
		}
	}
}

// Delete removes bucket/key from disk.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.resolve(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return classify(err)
	}
	return nil
}

// PublicURL returns the URL under which the HTTP server exposes the file.
func (s *Store) PublicURL(bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, url.PathEscape(bucket), object.EscapeKey(key))
}

// EnsureBucket creates the bucket directory.
func (s *Store) EnsureBucket(ctx context.Context, b object.Bucket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root, err := s.resolve(b.Name, "")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) resolve(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." || bucket == stagingDir {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if key != "" && (strings.HasPrefix(clean, "..") || filepath.IsAbs(clean)) {
		return "", fmt.Errorf("invalid storage key")
	}
	if key == "" {
		return filepath.Join(s.baseDir, bucket), nil
	}
	return filepath.Join(s.baseDir, bucket, clean), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %w", object.ErrKeyConflict, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", object.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", object.ErrPermissionDenied, err)
	default:
		return err
	}
}

var (
	_ object.Backend       = (*Store)(nil)
	_ object.BucketEnsurer = (*Store)(nil)
)
