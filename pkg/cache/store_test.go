package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(MemoryStoreOptions{MaxEntryBytes: 16})
	testStoreContract(t, store)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 16)
	require.NoError(t, err)
	testStoreContract(t, store)
}

// testStoreContract exercises the behaviour every Store shares. store must
// have a 16 byte entry limit.
func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.SetItem(ctx, "diarai_cache_leads", "v1"))
	require.NoError(t, store.SetItem(ctx, "diarai_cache_leads", "v2"))

	value, err := store.GetItem(ctx, "diarai_cache_leads")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)

	err = store.SetItem(ctx, "diarai_cache_leads", strings.Repeat("x", 17))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	value, err = store.GetItem(ctx, "diarai_cache_leads")
	require.NoError(t, err)
	assert.Equal(t, "v2", value, "rejected writes leave the entry untouched")

	require.NoError(t, store.RemoveItem(ctx, "diarai_cache_leads"))
	require.NoError(t, store.RemoveItem(ctx, "diarai_cache_leads"))
	_, err = store.GetItem(ctx, "diarai_cache_leads")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	_, err = store.GetItem(ctx, "diarai_cache_leads")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.SetItem(ctx, "k", "v"), ErrStoreClosed)
}

func TestStores_EntryLimit(t *testing.T) {
	ctx := context.Background()
	big := strings.Repeat("x", DefaultMaxEntryBytes+1)

	newFile := func(limit int) Store {
		s, err := NewFileStore(t.TempDir(), limit)
		require.NoError(t, err)
		return s
	}
	newMemory := func(limit int) Store {
		return NewMemoryStore(MemoryStoreOptions{MaxEntryBytes: limit})
	}

	for name, newStore := range map[string]func(int) Store{"memory": newMemory, "file": newFile} {
		t.Run(name+" zero selects default", func(t *testing.T) {
			store := newStore(0)
			defer store.Close()
			assert.ErrorIs(t, store.SetItem(ctx, "k", big), ErrQuotaExceeded)
		})

		t.Run(name+" negative disables", func(t *testing.T) {
			store := newStore(-1)
			defer store.Close()
			require.NoError(t, store.SetItem(ctx, "k", big))
			value, err := store.GetItem(ctx, "k")
			require.NoError(t, err)
			assert.Len(t, value, len(big))
		})
	}
}

func TestFileStore_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStore(dir, 0)
	require.NoError(t, err)
	require.NoError(t, first.SetItem(ctx, "diarai_cache_deals", `{"data":[],"timestamp":1}`))
	require.NoError(t, first.Close())

	second, err := NewFileStore(dir, 0)
	require.NoError(t, err)
	defer second.Close()

	value, err := second.GetItem(ctx, "diarai_cache_deals")
	require.NoError(t, err)
	assert.Equal(t, `{"data":[],"timestamp":1}`, value)
}

func TestFileStore_KeysStayInsideDirectory(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, 0)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetItem(context.Background(), "../escape", "v"))

	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.json"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.Contains(t, names, "..%2Fescape.json")
	for _, name := range names {
		assert.False(t, strings.HasSuffix(name, ".tmp"), "temporary files are cleaned up")
	}
}

func TestNewFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore("", 0)
	assert.EqualError(t, err, "cache directory is required")
}

func TestNewStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	store, err := NewStoreFromConfig(ctx, StoreConfig{Type: StoreTypeMemory, MemorySize: 10})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = NewStoreFromConfig(ctx, StoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	dir := t.TempDir()
	store, err = NewStoreFromConfig(ctx, StoreConfig{Type: StoreTypeFile, Dir: dir})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, store)
	assert.Equal(t, dir, store.(*FileStore).Dir())

	_, err = NewStoreFromConfig(ctx, StoreConfig{Type: "localstorage"})
	assert.EqualError(t, err, `unknown cache type "localstorage"`)

	_, err = NewStoreFromConfig(ctx, StoreConfig{Type: StoreTypeRedis, RedisAddr: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "connect to redis at 127.0.0.1:1")
}
