package objectstore

import (
	"context"
	"time"
)

// MetricsRecorder records store operation metrics.
type MetricsRecorder interface {
	RecordList(durationSeconds float64, count int, success bool)
	RecordDelete(durationSeconds float64, status DeleteStatus)
	RecordAbort(durationSeconds float64, success bool)
}

// InstrumentedStore wraps a VersionStore and records metrics for each operation.
type InstrumentedStore struct {
	store   VersionStore
	metrics MetricsRecorder
}

// NewInstrumentedStore creates a new InstrumentedStore wrapping the given store.
func NewInstrumentedStore(store VersionStore, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

// ListVersions lists versions and records the listing latency and count.
func (s *InstrumentedStore) ListVersions(ctx context.Context, opts ListOptions, fn func(Version) error) error {
	start := time.Now()
	count := 0
	err := s.store.ListVersions(ctx, opts, func(v Version) error {
		count++
		return fn(v)
	})
	s.metrics.RecordList(time.Since(start).Seconds(), count, err == nil)
	return err
}

// DeleteVersion deletes a version and records its latency and outcome.
func (s *InstrumentedStore) DeleteVersion(ctx context.Context, key, versionID string) DeleteResult {
	start := time.Now()
	res := s.store.DeleteVersion(ctx, key, versionID)
	s.metrics.RecordDelete(time.Since(start).Seconds(), res.Status)
	return res
}

// ListUnfinishedUploads delegates to the underlying store.
func (s *InstrumentedStore) ListUnfinishedUploads(ctx context.Context, prefix string) ([]Upload, error) {
	start := time.Now()
	uploads, err := s.store.ListUnfinishedUploads(ctx, prefix)
	s.metrics.RecordList(time.Since(start).Seconds(), len(uploads), err == nil)
	return uploads, err
}

// AbortUpload aborts an upload and records its latency.
func (s *InstrumentedStore) AbortUpload(ctx context.Context, key, uploadID string) error {
	start := time.Now()
	err := s.store.AbortUpload(ctx, key, uploadID)
	s.metrics.RecordAbort(time.Since(start).Seconds(), err == nil)
	return err
}

// Close closes the underlying store.
func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

// Unwrap returns the underlying store.
func (s *InstrumentedStore) Unwrap() VersionStore {
	return s.store
}

var _ VersionStore = (*InstrumentedStore)(nil)
