package badger_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiclient/api-store/pkg/kv"
	badgerkv "github.com/apiclient/api-store/pkg/kv/badger"
)

func newStore(t *testing.T) *badgerkv.Store {
	t.Helper()
	store, err := badgerkv.Open(badgerkv.Options{Path: ""})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetPutDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "files", "F1")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Put(ctx, "files", "F1", []byte("v1")))

	got, err := store.Get(ctx, "files", "F1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, store.Delete(ctx, "files", "F1"))
	_, err = store.Get(ctx, "files", "F1")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	// Deleting an absent key is not an error.
	require.NoError(t, store.Delete(ctx, "files", "F1"))
}

func TestNamespaceIsolation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "files", "K", []byte("files")))
	require.NoError(t, store.Put(ctx, "projects", "K", []byte("projects")))

	got, err := store.Get(ctx, "files", "K")
	require.NoError(t, err)
	assert.Equal(t, []byte("files"), got)

	got, err = store.Get(ctx, "projects", "K")
	require.NoError(t, err)
	assert.Equal(t, []byte("projects"), got)

	entries, err := store.RangeAsc(ctx, "files", kv.RangeOptions{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBatchSpansNamespaces(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "bin", "old", []byte("x")))

	err := store.Batch(ctx, []kv.Op{
		kv.PutOp("files", "F1", []byte("f")),
		kv.PutOp("revisions", "R1", []byte("r")),
		kv.DeleteOp("bin", "old"),
	})
	require.NoError(t, err)

	_, err = store.Get(ctx, "files", "F1")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "revisions", "R1")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "bin", "old")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestRangeAscOrderAndBounds(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, k := range []string{"b", "d", "a", "c", "e"} {
		require.NoError(t, store.Put(ctx, "ns", k, []byte(k)))
	}

	entries, err := store.RangeAsc(ctx, "ns", kv.RangeOptions{})
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, e.Key)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)

	entries, err = store.RangeAsc(ctx, "ns", kv.RangeOptions{Start: "b", End: "d"})
	require.NoError(t, err)
	got = nil
	for _, e := range entries {
		got = append(got, e.Key)
	}
	assert.Equal(t, []string{"b", "c"}, got)

	entries, err = store.RangeAsc(ctx, "ns", kv.RangeOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Key)
}

func TestRangeDesc(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Put(ctx, "ns", k, []byte(k)))
	}

	entries, err := store.RangeDesc(ctx, "ns", kv.RangeOptions{})
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, e.Key)
	}
	assert.Equal(t, []string{"d", "c", "b", "a"}, got)

	entries, err = store.RangeDesc(ctx, "ns", kv.RangeOptions{Start: "b", End: "d", Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c", entries[0].Key)
}

func TestClear(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Put(ctx, "history", fmt.Sprintf("k%02d", i), []byte("v")))
	}
	require.NoError(t, store.Put(ctx, "files", "keep", []byte("v")))

	require.NoError(t, store.Clear(ctx, "history"))

	entries, err := store.RangeAsc(ctx, "history", kv.RangeOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = store.Get(ctx, "files", "keep")
	assert.NoError(t, err)
}

func TestCancelledContext(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "files", "F1")
	assert.ErrorIs(t, err, context.Canceled)

	err = store.Put(ctx, "files", "F1", []byte("v"))
	assert.ErrorIs(t, err, context.Canceled)
}
