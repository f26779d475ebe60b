package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"papers-backend/internal/shared/storage/object"
)

// Options configures the S3 backend.
type Options struct {
	Region        string
	Bucket        string
	Prefix        string
	Endpoint      string
	KMSKeyID      string
	PublicBaseURL string
}

// Store implements object.Backend using a single Amazon S3 (or S3-compatible)
// bucket. Logical buckets become the first key segment under the prefix.
type Store struct {
	client        *s3.Client
	bucket        string
	region        string
	prefix        string
	kmsKeyID      string
	publicBaseURL string
}

// New creates a new S3-backed object store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:        client,
		bucket:        opts.Bucket,
		region:        cfg.Region,
		prefix:        normalizePrefix(opts.Prefix),
		kmsKeyID:      strings.TrimSpace(opts.KMSKeyID),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"),
	}, nil
}

// Put uploads the reader contents. When overwrites are not allowed the write
// is conditional on the key being absent.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, opts object.PutOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	objectKey := s.objectKey(bucket, key)
	counter := &countingReader{r: r}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        counter,
		ContentType: aws.String(opts.ContentType),
	}
	if !opts.Overwrite {
		input.IfNoneMatch = aws.String("*")
	}
	if s.kmsKeyID != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(s.kmsKeyID)
	} else {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return 0, classify(fmt.Errorf("s3 put object bucket=%s key=%s: %w", s.bucket, objectKey, err))
	}
	return counter.n, nil
}

// Get downloads a stored object for reading.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objectKey := s.objectKey(bucket, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, classify(fmt.Errorf("s3 get object bucket=%s key=%s: %w", s.bucket, objectKey, err))
	}
	return out.Body, nil
}

// List pages through ListObjectsV2, fetching the next page only when the
// previous one has been consumed.
func (s *Store) List(ctx context.Context, bucket, prefix string) iter.Seq2[object.ObjectInfo, error] {
	return func(yield func(object.ObjectInfo, error) bool) {
		root := s.objectKey(bucket, "") + "/"
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(root + prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(object.ObjectInfo{}, classify(fmt.Errorf("s3 list bucket=%s prefix=%s: %w", s.bucket, root+prefix, err)))
				return
			}
			for _, obj := range page.Contents {
				info := object.ObjectInfo{
					Key:  strings.TrimPrefix(aws.ToString(obj.Key), root),
					Size: aws.ToInt64(obj.Size),
				}
				if obj.LastModified != nil {
					info.CreatedAt = obj.LastModified.UTC()
				}
				if !yield(info, nil) {
					return
				}
			}
		}
	}
}

// Delete removes an object. S3 deletes are idempotent, so existence is
// checked first to report ErrNotFound.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	objectKey := s.objectKey(bucket, key)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return classify(fmt.Errorf("s3 head object bucket=%s key=%s: %w", s.bucket, objectKey, err))
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return classify(fmt.Errorf("s3 delete object bucket=%s key=%s: %w", s.bucket, objectKey, err))
	}
	return nil
}

// PublicURL returns the virtual-hosted URL of the object, or one rooted at
// the configured public base URL.
func (s *Store) PublicURL(bucket, key string) string {
	objectKey := object.EscapeKey(s.objectKey(bucket, key))
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s", s.publicBaseURL, objectKey)
	}
	if s.region == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, objectKey)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, objectKey)
}

// EnsureBucket verifies the physical bucket is reachable. Logical buckets are
// key prefixes and need no creation.
func (s *Store) EnsureBucket(ctx context.Context, _ object.Bucket) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return classify(fmt.Errorf("s3 head bucket=%s: %w", s.bucket, err))
	}
	return nil
}

func (s *Store) objectKey(bucket, key string) string {
	return applyPrefix(s.prefix, strings.TrimRight(bucket+"/"+strings.TrimLeft(key, "/"), "/"))
}

func classify(err error) error {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %w", object.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", object.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
			return fmt.Errorf("%w: %w", object.ErrPermissionDenied, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %w", object.ErrKeyConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", object.ErrStoreUnavailable, err)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}

var (
	_ object.Backend       = (*Store)(nil)
	_ object.BucketEnsurer = (*Store)(nil)
)
