package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "aabbcc", []byte("hello")))

		data, err := store.Get(ctx, "aabbcc")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)

		ok, err := store.Has(ctx, "aabbcc")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("IdempotentOverwrite", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "dup", []byte("same")))
		require.NoError(t, store.Put(ctx, "dup", []byte("same")))

		data, err := store.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, []byte("same"), data)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "snapshots/one", []byte("1")))
		require.NoError(t, store.Put(ctx, "snapshots/two", []byte("2")))

		keys, err := store.List(ctx, "snapshots/")
		require.NoError(t, err)
		assert.Equal(t, []string{"snapshots/one", "snapshots/two"}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "gone", []byte("x")))
		require.NoError(t, store.Delete(ctx, "gone"))

		ok, err := store.Has(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, ok)

		// Deleting again is not an error.
		require.NoError(t, store.Delete(ctx, "gone"))
	})
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestLocal(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	testStore(t, store)
}

func TestMemoryIsolatesCaller(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	data := []byte("mutable")
	require.NoError(t, store.Put(ctx, "k", data))
	data[0] = 'X'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("mutable"), got)
}

func TestLocalFanOut(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	// Hash-like keys are fanned out but listed under their logical name.
	key := "0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0"
	require.NoError(t, store.Put(ctx, key, []byte("content")))

	keys, err := store.List(ctx, "0f")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)
}
