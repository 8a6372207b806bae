package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/engine/pkg/dispatch"
	"github.com/docvault/engine/pkg/models"
	"github.com/docvault/engine/pkg/security"
)

func TestAuthHandlerIssueTokenReturnsParseableToken(t *testing.T) {
	store := security.NewUserStore()
	auth := security.NewAuthManager("test-secret", time.Hour, store)
	h := NewAuthHandler(auth, time.Hour, nil)

	result, err := h.issueToken(&dispatch.Context{
		Auth: &security.AuthResult{Username: "alice", Scopes: []string{"viewer"}},
	})
	require.NoError(t, err)

	grant, ok := result.(models.TokenGrant)
	require.True(t, ok)
	assert.NotEmpty(t, grant.Token)

	claims, err := auth.ValidateToken(grant.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []string{"viewer"}, claims.Scopes)
}
