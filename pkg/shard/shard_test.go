package shard

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/engine/pkg/config"
	"github.com/docvault/engine/pkg/record"
	"github.com/docvault/engine/pkg/tokenpool"
)

func newTestShard(t *testing.T, dataDir string) *Shard {
	live := config.NewLive(config.LimitsConfig{RecordsPerTokenWorker: 1000, MaxTokenWorkers: 4})
	pool := tokenpool.New(live)
	t.Cleanup(pool.Stop)

	return New(Config{
		ID:         "0000000000000001",
		Database:   "lib",
		Table:      "books",
		MaxRecords: 10,
		DataDir:    dataDir,
		Pool:       pool,
	})
}

func TestInsertGetDelete(t *testing.T) {
	s := newTestShard(t, t.TempDir())
	require.NoError(t, s.LoadData())
	assert.Equal(t, Loaded, s.State())

	pool := tokenpool.New(config.NewLive(config.LimitsConfig{MaxTokenWorkers: 1, RecordsPerTokenWorker: 10}))
	t.Cleanup(pool.Stop)
	r := record.New("lib", "books", "b1", pool)
	require.Equal(t, record.Applied, r.Insert("title", json.RawMessage(`"dune"`)))

	require.NoError(t, s.Insert(r))
	assert.True(t, s.ContainsRecord("b1"))

	got, err := s.Get("b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.Identifier())

	require.NoError(t, s.Delete("b1"))
	assert.False(t, s.ContainsRecord("b1"))
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	s := newTestShard(t, dir)
	require.NoError(t, s.LoadData())

	pool := tokenpool.New(config.NewLive(config.LimitsConfig{MaxTokenWorkers: 1, RecordsPerTokenWorker: 10}))
	t.Cleanup(pool.Stop)
	r := record.New("lib", "books", "b1", pool)
	require.Equal(t, record.Applied, r.Insert("title", json.RawMessage(`"dune"`)))
	require.NoError(t, s.Insert(r))

	require.NoError(t, s.UnloadData(Options{Persist: true, Clear: true}))
	assert.Equal(t, Unloaded, s.State())

	reloaded := newTestShard(t, dir)
	got, err := reloaded.Get("b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.Identifier())

	full := got.GetFullData()
	assert.Equal(t, json.RawMessage(`"dune"`), full["title"])
}

func TestInsertRejectsMismatchedOwner(t *testing.T) {
	s := newTestShard(t, t.TempDir())
	require.NoError(t, s.LoadData())

	pool := tokenpool.New(config.NewLive(config.LimitsConfig{MaxTokenWorkers: 1, RecordsPerTokenWorker: 10}))
	t.Cleanup(pool.Stop)
	r := record.New("other-db", "books", "b1", pool)

	err := s.Insert(r)
	require.Error(t, err)
}

func TestDropRemovesFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestShard(t, dir)
	require.NoError(t, s.LoadData())
	require.NoError(t, s.UnloadData(Options{Persist: true, Clear: true}))

	require.NoError(t, s.LoadData())
	require.NoError(t, s.UnloadData(Options{Drop: true}))

	matches, err := filepath.Glob(filepath.Join(dir, "db", "lib", "books", "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestAllocateIDIsStable(t *testing.T) {
	a := AllocateID("books", 3)
	b := AllocateID("books", 3)
	c := AllocateID("books", 4)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
