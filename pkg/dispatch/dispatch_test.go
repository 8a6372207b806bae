package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docvault/engine/pkg/security"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *security.AuthManager) {
	users := security.NewUserStore()
	hash, err := security.HashPassword("secret")
	require.NoError(t, err)
	require.NoError(t, users.AddUser(&security.User{
		Username:     "alice",
		PasswordHash: hash,
		Roles:        []string{"viewer"},
	}))

	auth := security.NewAuthManager("test-secret", time.Hour, users)
	d := New(auth, zap.NewNop())
	return d, auth
}

func TestUnknownPathReturns400(t *testing.T) {
	d, _ := newTestDispatcher(t)

	req := httptest.NewRequest(http.MethodGet, "/nothing", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodMismatchReturns405(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register([]string{"ping"}, &Action{
		Name: "ping", Verb: GET,
		Handler: func(ctx *Context) (interface{}, error) { return "pong", nil },
	})

	req := httptest.NewRequest(http.MethodPost, "/ping", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMissingRequiredArgReturns400(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register([]string{"read"}, &Action{
		Name: "read", Verb: GET, RequiredArgs: []string{"identifier"},
		Handler: func(ctx *Context) (interface{}, error) { return nil, nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingAuthReturns401(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register([]string{"secure"}, &Action{
		Name: "secure", Verb: GET,
		Handler: func(ctx *Context) (interface{}, error) { return nil, nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBasicAuthHappyPath(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register([]string{"db"}, &Action{
		Name: "db", Verb: GET, Resource: "database", Operation: "read",
		Handler: func(ctx *Context) (interface{}, error) {
			return map[string]string{"user": ctx.Auth.Username}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/db", nil)
	req.SetBasicAuth("alice", "secret")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "alice", out["user"])
}

func TestPermissionDeniedReturns403(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register([]string{"db"}, &Action{
		Name: "db", Verb: GET, Resource: "database", Operation: "delete",
		Handler: func(ctx *Context) (interface{}, error) { return nil, nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/db", nil)
	req.SetBasicAuth("alice", "secret")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBodyRequiredMissingReturns400(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register([]string{"write"}, &Action{
		Name: "write", Verb: PUT, RequiresBody: true, Resource: "database", Operation: "read",
		Handler: func(ctx *Context) (interface{}, error) { return nil, nil },
	})

	req := httptest.NewRequest(http.MethodPut, "/write", nil)
	req.SetBasicAuth("alice", "secret")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedBodyReturns422(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register([]string{"write"}, &Action{
		Name: "write", Verb: PUT, RequiresBody: true, Resource: "database", Operation: "read",
		Handler: func(ctx *Context) (interface{}, error) { return nil, nil },
	})

	req := httptest.NewRequest(http.MethodPut, "/write", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len("{not json"))
	req.SetBasicAuth("alice", "secret")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
