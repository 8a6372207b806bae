package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/engine/pkg/config"
	"github.com/docvault/engine/pkg/crypt"
	"github.com/docvault/engine/pkg/dispatch"
	"github.com/docvault/engine/pkg/models"
	"github.com/docvault/engine/pkg/registry"
	"github.com/docvault/engine/pkg/tokenpool"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	live := config.NewLive(config.LimitsConfig{
		RecordsPerTokenWorker: 1000,
		MaxTokenWorkers:       4,
		BanAfterFlags:         10,
		DefaultBucketSize:     120,
	})
	pool := tokenpool.New(live)
	cryptTool := crypt.New()

	cfg := &config.Config{
		Storage: config.StorageConfig{
			DataDir:            t.TempDir(),
			MaxRecordsPerShard: 100,
			IdleUnloadAfter:    10 * time.Minute,
			AdaptiveLoading:    false,
			AutoOptimize:       false,
			OptimizeCron:       "@every 15m",
		},
	}

	reg := registry.New(cfg, live, pool, cryptTool, nil)
	reg.Init()
	t.Cleanup(reg.Shutdown)
	return reg
}

func newDataHandler(t *testing.T) *DataHandler {
	t.Helper()
	return NewDataHandler(newTestRegistry(t), nil, nil)
}

func TestDataHandlerCreateDatabaseAndTable(t *testing.T) {
	h := newDataHandler(t)

	result, err := h.createDatabase(&dispatch.Context{
		Args: map[string]string{"identifier": "library"},
	})
	require.NoError(t, err)
	summary, ok := result.(models.DatabaseSummary)
	require.True(t, ok)
	assert.Equal(t, "library", summary.Name)

	_, err = h.createTable(&dispatch.Context{
		Args: map[string]string{"database": "library", "identifier": "books"},
	})
	require.NoError(t, err)
}

func TestDataHandlerInsertAndGetRecord(t *testing.T) {
	h := newDataHandler(t)
	_, err := h.createDatabase(&dispatch.Context{Args: map[string]string{"identifier": "library"}})
	require.NoError(t, err)
	_, err = h.createTable(&dispatch.Context{Args: map[string]string{"database": "library", "identifier": "books"}})
	require.NoError(t, err)

	result, err := h.insertRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
		Body: json.RawMessage(`{"title":"Dune"}`),
	})
	require.NoError(t, err)
	view, ok := result.(models.RecordView)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage(`"Dune"`), view["title"])

	result, err = h.getRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
	})
	require.NoError(t, err)
	view, ok = result.(models.RecordView)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage(`"Dune"`), view["title"])
}

func TestDataHandlerDeleteRecordThenGetFails(t *testing.T) {
	h := newDataHandler(t)
	_, err := h.createDatabase(&dispatch.Context{Args: map[string]string{"identifier": "library"}})
	require.NoError(t, err)
	_, err = h.createTable(&dispatch.Context{Args: map[string]string{"database": "library", "identifier": "books"}})
	require.NoError(t, err)
	_, err = h.insertRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
		Body: json.RawMessage(`{"title":"Dune"}`),
	})
	require.NoError(t, err)

	_, err = h.deleteRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
	})
	require.NoError(t, err)

	_, err = h.getRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
	})
	assert.Error(t, err)
}

func TestDataHandlerGetFieldWithAcquireGrantsToken(t *testing.T) {
	h := newDataHandler(t)
	_, err := h.createDatabase(&dispatch.Context{Args: map[string]string{"identifier": "library"}})
	require.NoError(t, err)
	_, err = h.createTable(&dispatch.Context{Args: map[string]string{"database": "library", "identifier": "books"}})
	require.NoError(t, err)
	_, err = h.insertRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
		Body: json.RawMessage(`{"title":"Dune"}`),
	})
	require.NoError(t, err)

	result, err := h.getField(&dispatch.Context{
		Args: map[string]string{
			"database": "library", "table": "books", "identifier": "b1",
			"field": "title", "acquire": "true",
		},
	})
	require.NoError(t, err)
	fv, ok := result.(fieldView)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage(`"Dune"`), fv.Value)
	assert.NotEmpty(t, fv.UToken)
}

func TestDataHandlerUpdateFieldWithValidTokenApplies(t *testing.T) {
	h := newDataHandler(t)
	_, err := h.createDatabase(&dispatch.Context{Args: map[string]string{"identifier": "library"}})
	require.NoError(t, err)
	_, err = h.createTable(&dispatch.Context{Args: map[string]string{"database": "library", "identifier": "books"}})
	require.NoError(t, err)
	_, err = h.insertRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
		Body: json.RawMessage(`{"title":"Dune"}`),
	})
	require.NoError(t, err)

	result, err := h.getField(&dispatch.Context{
		Args: map[string]string{
			"database": "library", "table": "books", "identifier": "b1",
			"field": "title", "acquire": "true",
		},
	})
	require.NoError(t, err)
	token := result.(fieldView).UToken
	require.NotEmpty(t, token)

	_, err = h.updateField(&dispatch.Context{
		Args: map[string]string{
			"database": "library", "table": "books", "identifier": "b1",
			"field": "title", "utoken": token,
		},
		Body: json.RawMessage(`"Dune Messiah"`),
	})
	require.NoError(t, err)

	result, err = h.getRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
	})
	require.NoError(t, err)
	view := result.(models.RecordView)
	assert.Equal(t, json.RawMessage(`"Dune Messiah"`), view["title"])
}

func TestDataHandlerUpdateFieldWithoutTokenRejected(t *testing.T) {
	h := newDataHandler(t)
	_, err := h.createDatabase(&dispatch.Context{Args: map[string]string{"identifier": "library"}})
	require.NoError(t, err)
	_, err = h.createTable(&dispatch.Context{Args: map[string]string{"database": "library", "identifier": "books"}})
	require.NoError(t, err)
	_, err = h.insertRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
		Body: json.RawMessage(`{"title":"Dune"}`),
	})
	require.NoError(t, err)

	_, err = h.updateField(&dispatch.Context{
		Args: map[string]string{
			"database": "library", "table": "books", "identifier": "b1",
			"field": "title",
		},
		Body: json.RawMessage(`"Dune Messiah"`),
	})
	assert.Error(t, err)
}

func TestDataHandlerDeleteFieldThenGetFieldMissing(t *testing.T) {
	h := newDataHandler(t)
	_, err := h.createDatabase(&dispatch.Context{Args: map[string]string{"identifier": "library"}})
	require.NoError(t, err)
	_, err = h.createTable(&dispatch.Context{Args: map[string]string{"database": "library", "identifier": "books"}})
	require.NoError(t, err)
	_, err = h.insertRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
		Body: json.RawMessage(`{"title":"Dune"}`),
	})
	require.NoError(t, err)

	_, err = h.deleteField(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1", "field": "title"},
	})
	require.NoError(t, err)

	_, err = h.getField(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1", "field": "title"},
	})
	assert.Error(t, err)
}

func TestDataHandlerTableStatisticsReturnsShardSummaries(t *testing.T) {
	h := newDataHandler(t)
	_, err := h.createDatabase(&dispatch.Context{Args: map[string]string{"identifier": "library"}})
	require.NoError(t, err)
	_, err = h.createTable(&dispatch.Context{Args: map[string]string{"database": "library", "identifier": "books"}})
	require.NoError(t, err)
	_, err = h.insertRecord(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books", "identifier": "b1"},
		Body: json.RawMessage(`{"title":"Dune"}`),
	})
	require.NoError(t, err)

	result, err := h.tableStatistics(&dispatch.Context{
		Args: map[string]string{"database": "library", "table": "books"},
	})
	require.NoError(t, err)
	stats, ok := result.(models.TableStatistics)
	require.True(t, ok)
	assert.Equal(t, "library", stats.Database)
	assert.Equal(t, "books", stats.Table)
	assert.NotEmpty(t, stats.Shards)
}

func TestDataHandlerDropTableAndDatabase(t *testing.T) {
	h := newDataHandler(t)
	_, err := h.createDatabase(&dispatch.Context{Args: map[string]string{"identifier": "library"}})
	require.NoError(t, err)
	_, err = h.createTable(&dispatch.Context{Args: map[string]string{"database": "library", "identifier": "books"}})
	require.NoError(t, err)

	_, err = h.dropTable(&dispatch.Context{Args: map[string]string{"database": "library", "identifier": "books"}})
	require.NoError(t, err)

	_, err = h.dropDatabase(&dispatch.Context{Args: map[string]string{"identifier": "library"}})
	require.NoError(t, err)
}
