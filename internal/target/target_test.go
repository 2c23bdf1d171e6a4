package target_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/crudfire/internal/target"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCRUDLifecycle(t *testing.T) {
	srv := target.New("/usuarios")

	rec := do(t, srv, http.MethodPost, "/usuarios", `{"nome":"Ana","email":"ana@test.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, float64(1), created["id"])
	assert.Equal(t, "Ana", created["nome"])

	rec = do(t, srv, http.MethodGet, "/usuarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, float64(1), list[0]["id"])

	rec = do(t, srv, http.MethodPut, "/usuarios/1", `{"nome":"Updated","id":99}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Updated", updated["nome"])
	assert.Equal(t, float64(1), updated["id"], "id must not change")
	assert.Equal(t, "ana@test.com", updated["email"])

	rec = do(t, srv, http.MethodGet, "/usuarios/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/usuarios/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, srv.Len())

	rec = do(t, srv, http.MethodDelete, "/usuarios/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodPut, "/usuarios/1", `{"nome":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIDsAreNotReused(t *testing.T) {
	srv := target.New("usuarios/")
	do(t, srv, http.MethodPost, "/usuarios", `{"nome":"a"}`)
	do(t, srv, http.MethodDelete, "/usuarios/1", "")
	rec := do(t, srv, http.MethodPost, "/usuarios", `{"nome":"b"}`)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, float64(2), created["id"])
}

func TestRejectsBadRequests(t *testing.T) {
	srv := target.New("/usuarios")
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/usuarios", `[1,2]`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/usuarios", `not json`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/usuarios/abc", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodPatch, "/usuarios/1", `{}`).Code)
}

func TestFailureInjection(t *testing.T) {
	srv := target.New("/usuarios", target.WithFailureRate(1, 1))
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/usuarios", "").Code)
}

func TestListIsEmptyArray(t *testing.T) {
	srv := target.New("/usuarios")
	rec := do(t, srv, http.MethodGet, "/usuarios", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}
