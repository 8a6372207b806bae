package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := New(NotFound, "resource not found")
	assert.Equal(t, "resource not found", err.Error())
}

func TestWrapUnwrap(t *testing.T) {
	original := errors.New("disk full")
	err := Wrap(original, LoadFailure, "shard load failed")

	assert.Contains(t, err.Error(), "disk full")
	assert.Same(t, original, err.Unwrap())
	assert.True(t, errors.Is(err, original))
}

func TestHTTPStatusTable(t *testing.T) {
	cases := map[Kind]int{
		NotFound:          http.StatusNotFound,
		AlreadyExists:     http.StatusBadRequest,
		Validation:        http.StatusBadRequest,
		LoadFailure:       http.StatusInternalServerError,
		InconsistencyLock: http.StatusLocked,
		NotReady:          http.StatusBadRequest,
		AuthRequired:      http.StatusUnauthorized,
		AuthInvalid:       http.StatusForbidden,
		MethodNotAllowed:  http.StatusMethodNotAllowed,
		Unsupported:       http.StatusNotAcceptable,
		PayloadRequired:   http.StatusBadRequest,
		PayloadTooLarge:   http.StatusRequestEntityTooLarge,
		RateLimited:       http.StatusTooManyRequests,
		BodyParse:         http.StatusUnprocessableEntity,
		CryptError:        http.StatusInternalServerError,
		Internal:          http.StatusInternalServerError,
	}

	for kind, want := range cases {
		err := New(kind, "x")
		assert.Equalf(t, want, err.HTTPStatus(), "kind %s", kind)
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("boom")))
	require.Equal(t, NotFound, KindOf(New(NotFound, "missing")))
}

func TestIs(t *testing.T) {
	err := New(RateLimited, "slow down")
	assert.True(t, Is(err, RateLimited))
	assert.False(t, Is(err, NotFound))
}
