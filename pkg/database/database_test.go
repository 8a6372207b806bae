package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/engine/pkg/config"
	"github.com/docvault/engine/pkg/tokenpool"
)

func newTestDatabase(t *testing.T) *Database {
	live := config.NewLive(config.LimitsConfig{RecordsPerTokenWorker: 1000, MaxTokenWorkers: 4})
	pool := tokenpool.New(live)
	t.Cleanup(pool.Stop)

	return New(Config{
		Name:               "lib",
		DataDir:            t.TempDir(),
		MaxRecordsPerShard: 10,
		Pool:               pool,
	})
}

func TestCreateAndFetchTable(t *testing.T) {
	db := newTestDatabase(t)

	tbl, err := db.CreateTable("Books")
	require.NoError(t, err)
	t.Cleanup(tbl.StopMaintenance)
	assert.Equal(t, "books", tbl.Name())

	got, err := db.Table("BOOKS")
	require.NoError(t, err)
	assert.Same(t, tbl, got)
}

func TestCreateTableDuplicateRejected(t *testing.T) {
	db := newTestDatabase(t)
	tbl, err := db.CreateTable("books")
	require.NoError(t, err)
	t.Cleanup(tbl.StopMaintenance)

	_, err = db.CreateTable("books")
	assert.Error(t, err)
}

func TestDeleteTableCascades(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.CreateTable("books")
	require.NoError(t, err)

	require.NoError(t, db.DeleteTable("books"))
	_, err = db.Table("books")
	assert.Error(t, err)
}

func TestEncryptedFlag(t *testing.T) {
	db := newTestDatabase(t)
	assert.False(t, db.Encrypted())
	db.SetEncrypted(true)
	assert.True(t, db.Encrypted())
}
