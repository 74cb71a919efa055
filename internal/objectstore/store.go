// Package objectstore defines the versioned object store used by the pruner.
//
// A versioned bucket keeps every upload of a key plus delete markers
// ("hides"). The pruner lists that history, decides which versions to keep,
// and removes the rest one version at a time.
//
// # Usage
//
//	store, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.ListVersions(ctx, objectstore.ListOptions{Prefix: "home/"}, func(v objectstore.Version) error {
//	    fmt.Println(v.Key, v.VersionID, v.DeleteMarker)
//	    return nil
//	})
//
//	res := store.DeleteVersion(ctx, key, versionID)
//	switch res.Status {
//	case objectstore.DeleteOK, objectstore.DeleteNotFound:
//	    // gone
//	default:
//	    return res.Err
//	}
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by VersionStore implementations.
var (
	// ErrNotFound is returned when the requested object or version does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("store is closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string // Operation that failed (e.g., "DeleteVersion", "ListVersions")
	Key string // Object key
	Err error  // Underlying error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// Version is one entry of a key's history.
type Version struct {
	// Key is the object key as stored (possibly encrypted).
	Key string

	// VersionID identifies this version of the key.
	VersionID string

	// DeleteMarker is true for hide records.
	DeleteMarker bool

	// LastModified is the Unix timestamp (milliseconds) of the upload or hide.
	LastModified int64

	// Size is the object size in bytes. Zero for delete markers.
	Size int64
}

// ListOptions scopes a version listing.
type ListOptions struct {
	// Prefix restricts the listing to keys starting with it.
	Prefix string

	// StartAfter resumes the listing after this key.
	StartAfter string
}

// Upload is an unfinished multipart upload.
type Upload struct {
	Key       string
	UploadID  string
	Initiated int64 // Unix milliseconds
}

// DeleteStatus classifies the outcome of DeleteVersion.
type DeleteStatus int

const (
	// DeleteOK means the version was removed.
	DeleteOK DeleteStatus = iota
	// DeleteNotFound means the version was already gone.
	DeleteNotFound
	// DeleteFailed means the deletion failed; Err holds the cause.
	DeleteFailed
)

func (s DeleteStatus) String() string {
	switch s {
	case DeleteOK:
		return "ok"
	case DeleteNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// DeleteResult is returned by DeleteVersion.
type DeleteResult struct {
	Status DeleteStatus
	Err    error
}

// Deleted reports whether the version is gone after the call.
func (r DeleteResult) Deleted() bool {
	return r.Status == DeleteOK || r.Status == DeleteNotFound
}

// ResultFromError classifies err into a DeleteResult. ErrNotFound anywhere
// in the chain yields DeleteNotFound.
func ResultFromError(err error) DeleteResult {
	switch {
	case err == nil:
		return DeleteResult{Status: DeleteOK}
	case errors.Is(err, ErrNotFound):
		return DeleteResult{Status: DeleteNotFound, Err: err}
	default:
		return DeleteResult{Status: DeleteFailed, Err: err}
	}
}

// VersionStore is the interface for versioned object storage.
//
// Thread Safety: Implementations must be safe for concurrent use.
type VersionStore interface {
	// ListVersions calls fn for every version matching opts. Versions are
	// delivered grouped by key in key order and, within a key, newest first.
	// An error returned by fn stops the listing and is returned.
	ListVersions(ctx context.Context, opts ListOptions, fn func(Version) error) error

	// DeleteVersion permanently removes one version of key.
	DeleteVersion(ctx context.Context, key, versionID string) DeleteResult

	// ListUnfinishedUploads returns multipart uploads that were never completed.
	ListUnfinishedUploads(ctx context.Context, prefix string) ([]Upload, error)

	// AbortUpload cancels a multipart upload. Aborting an unknown upload succeeds.
	AbortUpload(ctx context.Context, key, uploadID string) error

	// Close releases resources associated with the store.
	Close() error
}
