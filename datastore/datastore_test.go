package datastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *DataStore {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "data.json"))
	cfg.AutoSaveInterval = 0 // no background writes in tests
	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestPutGetRoundTrip(t *testing.T) {
	ds := newTestStore(t)

	require.NoError(t, ds.Put("conv:u1:c1", record{Name: "hello", Count: 3}))

	var got record
	ok, err := ds.Get("conv:u1:c1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record{Name: "hello", Count: 3}, got)

	ok, err = ds.Get("conv:missing", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKeysPrefixScan(t *testing.T) {
	ds := newTestStore(t)
	require.NoError(t, ds.Put("conv:u1:c1", 1))
	require.NoError(t, ds.Put("conv:u2:c1", 2))
	require.NoError(t, ds.Put("settings:u1", 3))

	require.Equal(t, []string{"conv:u1:c1", "conv:u2:c1"}, ds.Keys("conv:"))
	require.Equal(t, []string{"settings:u1"}, ds.Keys("settings:"))
	require.Len(t, ds.Keys(""), 3)
}

func TestFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = 0

	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, ds.Put("k", record{Name: "persisted"}))
	require.NoError(t, ds.Flush())
	require.NoError(t, ds.Close())

	ds2, err := NewWithConfig(cfg)
	require.NoError(t, err)
	defer ds2.Close()

	var got record
	ok, err := ds2.Get("k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", got.Name)
}

func TestDeleteSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = 0

	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, ds.Put("keep", 1))
	require.NoError(t, ds.Put("drop", 2))
	ds.Delete("drop")
	require.NoError(t, ds.Close())

	ds2, err := NewWithConfig(cfg)
	require.NoError(t, err)
	defer ds2.Close()
	require.Equal(t, []string{"keep"}, ds2.Keys(""))
}

func TestCorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = 0
	_, err := NewWithConfig(cfg)
	require.Error(t, err)
}

func TestBackupRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	cfg := DefaultConfig(path)
	cfg.AutoSaveInterval = 0
	cfg.BackupCount = 2

	ds, err := NewWithConfig(cfg)
	require.NoError(t, err)
	defer ds.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, ds.Put("k", i))
		require.NoError(t, ds.Flush())
	}
	matches, err := filepath.Glob(path + ".backup.*")
	require.NoError(t, err)
	require.LessOrEqual(t, len(matches), 2)
}
