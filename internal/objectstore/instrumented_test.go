package objectstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listCall struct {
	count   int
	success bool
}

type mockMetrics struct {
	mu      sync.Mutex
	lists   []listCall
	deletes []DeleteStatus
	aborts  []bool
}

func (m *mockMetrics) RecordList(durationSeconds float64, count int, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = append(m.lists, listCall{count: count, success: success})
}

func (m *mockMetrics) RecordDelete(durationSeconds float64, status DeleteStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, status)
}

func (m *mockMetrics) RecordAbort(durationSeconds float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborts = append(m.aborts, success)
}

func TestInstrumentedStoreList(t *testing.T) {
	mock := NewMockStore()
	mock.AddVersion("a", 1, false)
	mock.AddVersion("b", 1, false)
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(mock, metrics)

	got := collect(t, store, ListOptions{})
	assert.Len(t, got, 2)
	require.Len(t, metrics.lists, 1)
	assert.Equal(t, listCall{count: 2, success: true}, metrics.lists[0])

	stop := errors.New("stop")
	err := store.ListVersions(context.Background(), ListOptions{}, func(Version) error { return stop })
	assert.ErrorIs(t, err, stop)
	require.Len(t, metrics.lists, 2)
	assert.False(t, metrics.lists[1].success)
}

func TestInstrumentedStoreDelete(t *testing.T) {
	mock := NewMockStore()
	id := mock.AddVersion("a", 1, false)
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(mock, metrics)
	ctx := context.Background()

	store.DeleteVersion(ctx, "a", id)
	store.DeleteVersion(ctx, "a", id)
	assert.Equal(t, []DeleteStatus{DeleteOK, DeleteNotFound}, metrics.deletes)
}

func TestInstrumentedStoreUploads(t *testing.T) {
	mock := NewMockStore()
	mock.AddUpload("a", "u1", 1)
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(mock, metrics)
	ctx := context.Background()

	uploads, err := store.ListUnfinishedUploads(ctx, "")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	require.NoError(t, store.AbortUpload(ctx, "a", "u1"))
	assert.Equal(t, []bool{true}, metrics.aborts)
	assert.Same(t, mock, store.Unwrap())
	assert.NoError(t, store.Close())
}
