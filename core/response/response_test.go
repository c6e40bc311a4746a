package response_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/response"
)

func render(t *testing.T, resp handler.Response, method string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	require.NoError(t, resp(w, httptest.NewRequest(method, "/", nil)))
	return w
}

func TestTypedJSON(t *testing.T) {
	t.Parallel()

	w := render(t, response.TypedJSON(map[string]string{"type": "x"}, http.StatusBadRequest, "application/problem+json"), http.MethodPost)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"type":"x"}`, w.Body.String())
}

func TestJSONWithStatus_Defaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusNoContent, render(t, response.JSONWithStatus(nil, 0), http.MethodGet).Code)

	w := render(t, response.JSON([]int{1}), http.MethodHead)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestDecorators(t *testing.T) {
	t.Parallel()

	resp := response.WithHeader(response.NoContent(), "Link", `<https://a/dir>;rel="index"`)
	resp = response.WithHeader(resp, "Link", `<https://a/authz/1>;rel="up"`)
	resp = response.WithHeaders(resp, map[string]string{"Cache-Control": "no-store"})

	w := render(t, resp, http.MethodGet)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, w.Header().Values("Link"), 2)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := response.Error(boom)(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, boom)
}

func TestBytes(t *testing.T) {
	t.Parallel()

	w := render(t, response.Bytes([]byte("PEM"), "application/pem-certificate-chain", 0), http.MethodPost)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PEM", w.Body.String())
}
