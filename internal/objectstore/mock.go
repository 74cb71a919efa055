package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MockStore is an in-memory versioned store for testing.
type MockStore struct {
	mu       sync.RWMutex
	versions map[string][]Version // key -> versions, newest first
	uploads  map[string]Upload    // uploadID -> upload
	closed   bool
	seq      int

	// DeleteHook, when set, is consulted before each deletion. A non-nil
	// result replaces the normal outcome.
	DeleteHook func(key, versionID string) *DeleteResult

	deleteCalls int
	aborted     []string
}

// NewMockStore creates a new empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		versions: make(map[string][]Version),
		uploads:  make(map[string]Upload),
	}
}

// AddVersion records a version of key. The version ID is generated when empty.
// Returns the version ID.
func (m *MockStore) AddVersion(key string, lastModifiedMs int64, deleteMarker bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	v := Version{
		Key:          key,
		VersionID:    fmt.Sprintf("v%06d", m.seq),
		DeleteMarker: deleteMarker,
		LastModified: lastModifiedMs,
	}
	list := append(m.versions[key], v)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastModified > list[j].LastModified
	})
	m.versions[key] = list
	return v.VersionID
}

// AddUpload records an unfinished multipart upload.
func (m *MockStore) AddUpload(key, uploadID string, initiatedMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[uploadID] = Upload{Key: key, UploadID: uploadID, Initiated: initiatedMs}
}

// ListVersions delivers versions in key order, newest first within a key.
func (m *MockStore) ListVersions(ctx context.Context, opts ListOptions, fn func(Version) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	var keys []string
	for k := range m.versions {
		if strings.HasPrefix(k, opts.Prefix) && k > opts.StartAfter {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var snapshot []Version
	for _, k := range keys {
		snapshot = append(snapshot, m.versions[k]...)
	}
	m.mu.RUnlock()

	for _, v := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// DeleteVersion removes one version of key.
func (m *MockStore) DeleteVersion(ctx context.Context, key, versionID string) DeleteResult {
	m.mu.Lock()
	m.deleteCalls++
	hook := m.DeleteHook
	if m.closed {
		m.mu.Unlock()
		return DeleteResult{Status: DeleteFailed, Err: ErrClosed}
	}
	m.mu.Unlock()

	if hook != nil {
		if res := hook(key, versionID); res != nil {
			return *res
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.versions[key]
	for i, v := range list {
		if v.VersionID == versionID {
			m.versions[key] = append(list[:i:i], list[i+1:]...)
			if len(m.versions[key]) == 0 {
				delete(m.versions, key)
			}
			return DeleteResult{Status: DeleteOK}
		}
	}
	return DeleteResult{Status: DeleteNotFound, Err: &ObjectError{Op: "DeleteVersion", Key: key, Err: ErrNotFound}}
}

// ListUnfinishedUploads returns uploads under prefix ordered by key.
func (m *MockStore) ListUnfinishedUploads(ctx context.Context, prefix string) ([]Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Upload
	for _, u := range m.uploads {
		if strings.HasPrefix(u.Key, prefix) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].UploadID < out[j].UploadID
	})
	return out, nil
}

// AbortUpload cancels an upload.
func (m *MockStore) AbortUpload(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.uploads, uploadID)
	m.aborted = append(m.aborted, uploadID)
	return nil
}

// Close marks the store as closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Versions returns a copy of the remaining versions of key, newest first.
func (m *MockStore) Versions(key string) []Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Version(nil), m.versions[key]...)
}

// DeleteCalls returns how many times DeleteVersion was called.
func (m *MockStore) DeleteCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deleteCalls
}

// Aborted returns the IDs of aborted uploads in call order.
func (m *MockStore) Aborted() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.aborted...)
}

var _ VersionStore = (*MockStore)(nil)
