package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthManager(t *testing.T) *AuthManager {
	store := NewUserStore()
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	require.NoError(t, store.AddUser(&User{Username: "alice", PasswordHash: hash, Roles: []string{"operator"}}))
	return NewAuthManager("test-secret", time.Hour, store)
}

func TestGenerateAndValidateToken(t *testing.T) {
	auth := newTestAuthManager(t)

	tok, err := auth.GenerateToken("alice", []string{"operator"})
	require.NoError(t, err)

	claims, err := auth.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
}

func TestAuthenticateRequestViaToken(t *testing.T) {
	auth := newTestAuthManager(t)
	tok, err := auth.GenerateToken("alice", []string{"operator"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Token", tok)

	result, err := auth.AuthenticateRequest(req)
	require.NoError(t, err)
	assert.Equal(t, ModeToken, result.Mode)
	assert.Equal(t, "alice", result.Username)
}

func TestAuthenticateRequestViaBasic(t *testing.T) {
	auth := newTestAuthManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "secret")

	result, err := auth.AuthenticateRequest(req)
	require.NoError(t, err)
	assert.Equal(t, ModePassword, result.Mode)
}

func TestAuthenticateRequestMissingCredentials(t *testing.T) {
	auth := newTestAuthManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := auth.AuthenticateRequest(req)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestAuthenticateRequestBadToken(t *testing.T) {
	auth := newTestAuthManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Token", "garbage")

	_, err := auth.AuthenticateRequest(req)
	assert.ErrorIs(t, err, ErrAuthInvalid)
}

func TestAuthorizeUsesRBAC(t *testing.T) {
	auth := newTestAuthManager(t)
	result := &AuthResult{Username: "alice", Scopes: []string{"operator"}}
	assert.True(t, auth.Authorize(result, "database", "update"))
	assert.False(t, auth.Authorize(result, "database", "drop-everything"))
}

func TestConstantTimeEquals(t *testing.T) {
	assert.True(t, ConstantTimeEquals("abc", "abc"))
	assert.False(t, ConstantTimeEquals("abc", "abd"))
}
