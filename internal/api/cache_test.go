package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/engine/pkg/cache"
	"github.com/docvault/engine/pkg/dispatch"
	"github.com/docvault/engine/pkg/models"
)

func TestCacheHandlerSetThenGet(t *testing.T) {
	h := NewCacheHandler(cache.NewManager(), nil)

	_, err := h.set(&dispatch.Context{
		Args: map[string]string{"cache": "sessions", "identifier": "s1"},
		Body: json.RawMessage(`{"user":"alice"}`),
	})
	require.NoError(t, err)

	result, err := h.get(&dispatch.Context{
		Args: map[string]string{"cache": "sessions", "identifier": "s1"},
	})
	require.NoError(t, err)

	view, ok := result.(models.CacheEntryView)
	require.True(t, ok)
	assert.True(t, view.IsValid)
	assert.Equal(t, json.RawMessage(`{"user":"alice"}`), view.Data)
}

func TestCacheHandlerGetMissingReturnsNotFound(t *testing.T) {
	h := NewCacheHandler(cache.NewManager(), nil)

	_, err := h.get(&dispatch.Context{
		Args: map[string]string{"cache": "sessions", "identifier": "missing"},
	})
	assert.Error(t, err)
}

func TestCacheHandlerClearRemovesEntries(t *testing.T) {
	h := NewCacheHandler(cache.NewManager(), nil)

	_, err := h.set(&dispatch.Context{
		Args: map[string]string{"cache": "sessions", "identifier": "s1"},
		Body: json.RawMessage(`1`),
	})
	require.NoError(t, err)

	_, err = h.clear(&dispatch.Context{Args: map[string]string{"cache": "sessions"}})
	require.NoError(t, err)

	_, err = h.get(&dispatch.Context{Args: map[string]string{"cache": "sessions", "identifier": "s1"}})
	assert.Error(t, err)
}
