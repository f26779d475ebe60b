package object

import (
	"fmt"
	"path"
	"strings"
)

// DefaultMaxBytes is the per-object size limit applied when a bucket does not set one.
const DefaultMaxBytes int64 = 50 << 20

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOC  = "application/msword"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// DocumentTypes is the allow-list shared by the papers and solutions buckets.
var DocumentTypes = []string{ContentTypePDF, ContentTypeDOC, ContentTypeDOCX}

// Bucket is a pre-declared blob namespace with its upload policy.
type Bucket struct {
	Name           string
	MaxBytes       int64
	AllowedTypes   []string
	Public         bool
	AllowOverwrite bool
}

// NewDocumentBucket returns a public bucket that accepts PDF and Word files up to 50 MiB.
func NewDocumentBucket(name string) Bucket {
	return Bucket{
		Name:         name,
		MaxBytes:     DefaultMaxBytes,
		AllowedTypes: DocumentTypes,
		Public:       true,
	}
}

// Limit returns the effective size limit.
func (b Bucket) Limit() int64 {
	if b.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return b.MaxBytes
}

// Allows reports whether contentType is on the bucket allow-list. Parameters
// such as "; charset=binary" are ignored.
func (b Bucket) Allows(contentType string) bool {
	clean := NormalizeContentType(contentType)
	if len(b.AllowedTypes) == 0 {
		return clean != ""
	}
	for _, t := range b.AllowedTypes {
		if t == clean {
			return true
		}
	}
	return false
}

// Check validates a prospective write. A negative size means unknown and is
// not checked here.
func (b Bucket) Check(size int64, contentType string) error {
	if !b.Allows(contentType) {
		return &UnsupportedTypeError{Bucket: b.Name, ContentType: NormalizeContentType(contentType)}
	}
	if size > b.Limit() {
		return &OversizeError{Bucket: b.Name, Size: size, Limit: b.Limit()}
	}
	return nil
}

// NormalizeContentType lower-cases and strips MIME parameters.
func NormalizeContentType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
}

// Buckets indexes the declared buckets by name.
type Buckets map[string]Bucket

// NewBuckets builds an index from the given declarations.
func NewBuckets(list ...Bucket) Buckets {
	out := make(Buckets, len(list))
	for _, b := range list {
		out[b.Name] = b
	}
	return out
}

// Lookup returns the named bucket or ErrUnknownBucket.
func (bs Buckets) Lookup(name string) (Bucket, error) {
	b, ok := bs[name]
	if !ok {
		return Bucket{}, fmt.Errorf("%w: %s", ErrUnknownBucket, name)
	}
	return b, nil
}

// ContentTypeFromName maps a document file extension to its content type. It
// returns "" for anything else.
func ContentTypeFromName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return ContentTypePDF
	case ".doc":
		return ContentTypeDOC
	case ".docx":
		return ContentTypeDOCX
	default:
		return ""
	}
}
