// Package s3 implements the VersionStore interface using AWS SDK for S3-compatible storage.
//
// The bucket must have versioning enabled. Backblaze B2, MinIO and AWS S3
// all expose version history through ListObjectVersions.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/verprune/verprune/internal/objectstore"
)

// Config configures an S3 store.
type Config struct {
	// Bucket is the name of the S3 bucket.
	Bucket string

	// Region is the AWS region (e.g., "us-east-1").
	// Required for AWS S3, optional for S3-compatible endpoints.
	Region string

	// Endpoint is the S3 endpoint URL (e.g., "https://s3.us-west-002.backblazeb2.com").
	// If empty, uses the default AWS endpoint for the region.
	Endpoint string

	// AccessKeyID is the access key ID.
	// If empty, uses the default credential chain.
	AccessKeyID string

	// SecretAccessKey is the secret access key.
	// If empty, uses the default credential chain.
	SecretAccessKey string

	// UsePathStyle enables path-style addressing (required for MinIO and some S3-compatible stores).
	UsePathStyle bool

	// PageSize bounds the number of entries per list request. Zero uses the server default.
	PageSize int32
}

// Store implements objectstore.VersionStore using S3.
type Store struct {
	client   *s3.Client
	bucket   string
	pageSize int32
	closed   bool
	mu       sync.RWMutex
}

// New creates a new S3 store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}

	opts := []func(*config.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	} else {
		opts = append(opts, config.WithRegion("us-east-1"))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			// Suppress "Response has no supported checksum" warnings.
			o.DisableLogOutputChecksumValidationSkipped = true
		},
	}

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Store{
		client:   s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:   cfg.Bucket,
		pageSize: cfg.PageSize,
	}, nil
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return objectstore.ErrClosed
	}
	return nil
}

// ListVersions pages through ListObjectVersions. Each page carries uploads
// and delete markers in separate lists; they are merged back into the
// server's key order with newest versions first.
func (s *Store) ListVersions(ctx context.Context, opts objectstore.ListOptions, fn func(objectstore.Version) error) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	input := &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.StartAfter != "" {
		input.KeyMarker = aws.String(opts.StartAfter)
	}
	if s.pageSize > 0 {
		input.MaxKeys = aws.Int32(s.pageSize)
	}

	for {
		page, err := s.client.ListObjectVersions(ctx, input)
		if err != nil {
			return s.wrapError("ListVersions", opts.Prefix, err)
		}

		for _, v := range mergeVersions(page.Versions, page.DeleteMarkers) {
			if err := fn(v); err != nil {
				return err
			}
		}

		if !aws.ToBool(page.IsTruncated) {
			return nil
		}
		input.KeyMarker = page.NextKeyMarker
		input.VersionIdMarker = page.NextVersionIdMarker
	}
}

// mergeVersions interleaves two lists that are each ordered by key
// ascending and then by modification time descending.
func mergeVersions(versions []types.ObjectVersion, markers []types.DeleteMarkerEntry) []objectstore.Version {
	out := make([]objectstore.Version, 0, len(versions)+len(markers))
	i, j := 0, 0
	for i < len(versions) || j < len(markers) {
		if j >= len(markers) || (i < len(versions) && versionFirst(versions[i], markers[j])) {
			out = append(out, fromObjectVersion(versions[i]))
			i++
			continue
		}
		out = append(out, fromDeleteMarker(markers[j]))
		j++
	}
	return out
}

func versionFirst(v types.ObjectVersion, m types.DeleteMarkerEntry) bool {
	vk, mk := aws.ToString(v.Key), aws.ToString(m.Key)
	if vk != mk {
		return vk < mk
	}
	return millis(v.LastModified) >= millis(m.LastModified)
}

func fromObjectVersion(v types.ObjectVersion) objectstore.Version {
	return objectstore.Version{
		Key:          aws.ToString(v.Key),
		VersionID:    aws.ToString(v.VersionId),
		LastModified: millis(v.LastModified),
		Size:         aws.ToInt64(v.Size),
	}
}

func fromDeleteMarker(m types.DeleteMarkerEntry) objectstore.Version {
	return objectstore.Version{
		Key:          aws.ToString(m.Key),
		VersionID:    aws.ToString(m.VersionId),
		DeleteMarker: true,
		LastModified: millis(m.LastModified),
	}
}

// DeleteVersion permanently removes one version of key.
func (s *Store) DeleteVersion(ctx context.Context, key, versionID string) objectstore.DeleteResult {
	if err := s.checkClosed(); err != nil {
		return objectstore.DeleteResult{Status: objectstore.DeleteFailed, Err: err}
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:    aws.String(s.bucket),
		Key:       aws.String(key),
		VersionId: aws.String(versionID),
	})
	return objectstore.ResultFromError(s.wrapError("DeleteVersion", key, err))
}

// ListUnfinishedUploads returns every in-progress multipart upload under prefix.
func (s *Store) ListUnfinishedUploads(ctx context.Context, prefix string) ([]objectstore.Upload, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	input := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var uploads []objectstore.Upload
	for {
		page, err := s.client.ListMultipartUploads(ctx, input)
		if err != nil {
			return nil, s.wrapError("ListUnfinishedUploads", prefix, err)
		}
		for _, u := range page.Uploads {
			uploads = append(uploads, objectstore.Upload{
				Key:       aws.ToString(u.Key),
				UploadID:  aws.ToString(u.UploadId),
				Initiated: millis(u.Initiated),
			})
		}
		if !aws.ToBool(page.IsTruncated) {
			return uploads, nil
		}
		input.KeyMarker = page.NextKeyMarker
		input.UploadIdMarker = page.NextUploadIdMarker
	}
}

// AbortUpload cancels a multipart upload.
func (s *Store) AbortUpload(ctx context.Context, key, uploadID string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if errors.As(err, &noSuchUpload) {
			return nil
		}
		return s.wrapError("AbortUpload", key, err)
	}
	return nil
}

// Close releases resources associated with the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			if isNoSuchBucket(err) {
				return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrBucketNotFound}
			}
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
		case http.StatusForbidden:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrAccessDenied}
		}
	}

	if isNoSuchBucket(err) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrBucketNotFound}
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchVersion" {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
	}

	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}

func millis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func isNoSuchBucket(err error) bool {
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket"
}

// Verify interface compliance at compile time.
var _ objectstore.VersionStore = (*Store)(nil)
