// Tests for the KV backends. Every backend runs the same contract suite.
package kv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

func openBackend(t *testing.T, backend, dir string) types.KV {
	t.Helper()
	cfg := types.DefaultConfig(dir)
	cfg.Backend = backend
	store, err := Open(cfg)
	require.NoError(t, err)
	return store
}

func TestKV_Contract(t *testing.T) {
	for _, backend := range []string{types.BackendMemory, types.BackendFile, types.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			store := openBackend(t, backend, t.TempDir())
			defer store.Close()

			_, ok, err := store.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set("stockroom/collection/products", "[]"))
			require.NoError(t, store.Set("stockroom/collection/customers", "[1]"))
			require.NoError(t, store.Set("stockroom/binding", "{}"))
			require.NoError(t, store.Set("stockroom/collection/products", `[{"id":"PRD-001"}]`))

			v, ok, err := store.Get("stockroom/collection/products")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[{"id":"PRD-001"}]`, v)

			keys, err := store.Keys("stockroom/collection/")
			require.NoError(t, err)
			assert.Equal(t, []string{"stockroom/collection/customers", "stockroom/collection/products"}, keys)

			require.NoError(t, store.Delete("stockroom/collection/customers"))
			require.NoError(t, store.Delete("stockroom/collection/customers"), "deleting an absent key succeeds")

			keys, err = store.Keys("stockroom/")
			require.NoError(t, err)
			assert.Equal(t, []string{"stockroom/binding", "stockroom/collection/products"}, keys)
		})
	}
}

func TestKV_ClosedStore(t *testing.T) {
	for _, backend := range []string{types.BackendMemory, types.BackendFile, types.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			store := openBackend(t, backend, t.TempDir())
			require.NoError(t, store.Close())
			require.NoError(t, store.Close(), "close is idempotent")

			_, _, err := store.Get("k")
			assert.ErrorIs(t, err, types.ErrStoreClosed)
			assert.ErrorIs(t, store.Set("k", "v"), types.ErrStoreClosed)
		})
	}
}

func TestKV_Persistence(t *testing.T) {
	for _, backend := range []string{types.BackendFile, types.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			store := openBackend(t, backend, dir)
			require.NoError(t, store.Set("stockroom/dirty", `["products"]`))
			require.NoError(t, store.Close())

			reopened := openBackend(t, backend, dir)
			defer reopened.Close()
			v, ok, err := reopened.Get("stockroom/dirty")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `["products"]`, v)
		})
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := types.DefaultConfig(t.TempDir())
	cfg.Backend = "postgres"
	_, err := Open(cfg)
	assert.ErrorIs(t, err, types.ErrBackendUnknown)

	cfg.Backend = ""
	_, err = Open(cfg)
	assert.ErrorIs(t, err, types.ErrBackendEmpty)
}

func TestFile_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFile(dir)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.Set("k", string(rune('a'+i))))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StateFileName, entries[0].Name())
}

func TestFile_Reload(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenFile(dir)
	require.NoError(t, err)
	b, err := OpenFile(dir)
	require.NoError(t, err)

	require.NoError(t, a.Set("stockroom/binding", `{"documentId":"doc-1"}`))
	_, ok, _ := b.Get("stockroom/binding")
	assert.False(t, ok)

	require.NoError(t, b.Reload())
	v, ok, err := b.Get("stockroom/binding")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"documentId":"doc-1"}`, v)
}

func TestFile_CorruptStateFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte("{not json"), 0o644))
	_, err := OpenFile(dir)
	assert.Error(t, err)
}
