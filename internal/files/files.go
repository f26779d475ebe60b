// Package files serves stored blobs over HTTP and lists them for
// administrators.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"sort"
	"strings"
	"time"

	"papers-backend/internal/shared/storage/object"
)

// ErrInvalidFilter is returned for an unknown bucket or file type.
var ErrInvalidFilter = errors.New("invalid file filter")

// Source is the part of the object adapter this package reads from.
type Source interface {
	Bucket(name string) (object.Bucket, error)
	Buckets() []object.Bucket
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	List(ctx context.Context, bucket, prefix string) iter.Seq2[object.ObjectInfo, error]
	PublicURL(bucket, key string) string
}

// Entry is one stored blob.
type Entry struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	CreatedAt   time.Time
	PublicURL   string
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	Bucket string
	// FileType is pdf, doc or docx.
	FileType string
}

var fileTypes = map[string]string{
	"pdf":  object.ContentTypePDF,
	"doc":  object.ContentTypeDOC,
	"docx": object.ContentTypeDOCX,
}

// FileTypes returns the accepted FileType values.
func FileTypes() []string {
	out := make([]string, 0, len(fileTypes))
	for t := range fileTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// List returns the blobs matching f, newest first. Without a bucket every
// declared bucket is listed.
func List(ctx context.Context, src Source, f Filter) ([]Entry, error) {
	fileType := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f.FileType), "."))
	want := ""
	if fileType != "" {
		ct, ok := fileTypes[fileType]
		if !ok {
			return nil, fmt.Errorf("%w: file type %q is not one of %s", ErrInvalidFilter, f.FileType, strings.Join(FileTypes(), ", "))
		}
		want = ct
	}

	var buckets []string
	if name := strings.TrimSpace(f.Bucket); name != "" {
		if _, err := src.Bucket(name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
		buckets = []string{name}
	} else {
		for _, b := range src.Buckets() {
			buckets = append(buckets, b.Name)
		}
	}

	var out []Entry
	for _, bucket := range buckets {
		for info, err := range src.List(ctx, bucket, "") {
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", bucket, err)
			}
			ct := contentTypeOf(info)
			if want != "" && ct != want {
				continue
			}
			out = append(out, Entry{
				Bucket:      bucket,
				Key:         info.Key,
				Size:        info.Size,
				ContentType: ct,
				CreatedAt:   info.CreatedAt,
				PublicURL:   src.PublicURL(bucket, info.Key),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key > out[j].Key
	})
	return out, nil
}

// contentTypeOf prefers the extension for documents; some backends report
// a generic type for blobs they did not write themselves.
func contentTypeOf(info object.ObjectInfo) string {
	if ct := object.ContentTypeFromName(info.Key); ct != "" {
		return ct
	}
	if ct := object.NormalizeContentType(info.ContentType); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// FileName returns the display name of a key, without the timestamp prefix
// DeriveKey adds.
func FileName(key string) string {
	if title := object.TitleFromKey(key); title != "" {
		return title
	}
	return path.Base(key)
}
