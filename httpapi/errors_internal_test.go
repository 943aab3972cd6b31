package httpapi

import (
	"errors"
	"net/http"
	"testing"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorResponseFallsBackOnCategory(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{goerrors.New("gone", goerrors.CategoryNotFound), http.StatusNotFound, "NOT_FOUND"},
		{goerrors.New("taken", goerrors.CategoryConflict), http.StatusConflict, "CONFLICT"},
		{goerrors.New("no", goerrors.CategoryAuthz), http.StatusForbidden, accounts.TextCodeForbidden},
		{accounts.ErrProviderUnavailable, http.StatusBadGateway, accounts.TextCodeProviderUnavailable},
		{goerrors.Wrap(errors.New("disk full"), goerrors.CategoryInternal, "save failed"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		status, body := errorResponse(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, body.Code, tc.err.Error())
	}
}

func TestErrorResponseHidesInternalMessages(t *testing.T) {
	_, body := errorResponse(goerrors.Wrap(errors.New("dial tcp 10.1.1.1:5432"), goerrors.CategoryInternal, "db down"))
	assert.Equal(t, internalMessage, body.Message)
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", token)

	token, ok = bearerToken("bearer   xyz")
	assert.True(t, ok)
	assert.Equal(t, "xyz", token)

	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)

	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)

	_, ok = bearerToken("Bearerabc")
	assert.False(t, ok)
}
