package object

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	// ErrStoreUnavailable marks transient backend failures; the caller may retry.
	ErrStoreUnavailable = errors.New("object store unavailable")
	// ErrPermissionDenied marks fatal authorization failures; do not retry.
	ErrPermissionDenied = errors.New("object store permission denied")
	// ErrKeyConflict is returned when a key already exists and the bucket rejects overwrites.
	ErrKeyConflict   = errors.New("object key already exists")
	ErrNotFound      = errors.New("object not found")
	ErrUnknownBucket = errors.New("unknown bucket")
)

// OversizeError reports a blob larger than the bucket limit.
type OversizeError struct {
	Bucket string
	Size   int64
	Limit  int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("object of %s exceeds the %s limit of bucket %s",
		humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)), e.Bucket)
}

// UnsupportedTypeError reports a content type outside the bucket allow-list.
type UnsupportedTypeError struct {
	Bucket      string
	ContentType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("content type %q is not allowed in bucket %s", e.ContentType, e.Bucket)
}

// Classify maps an arbitrary backend failure onto the package taxonomy.
// Errors that already carry a sentinel are returned unchanged; anything else,
// including an expired deadline, is treated as transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrKeyConflict),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnknownBucket):
		return err
	}
	var oversize *OversizeError
	var unsupported *UnsupportedTypeError
	if errors.As(err, &oversize) || errors.As(err, &unsupported) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// IsRetryable reports whether the failure is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
