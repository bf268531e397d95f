package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowcrest/annocache/internal/clustercache"
	"github.com/hollowcrest/annocache/internal/docstore/memstore"
	"github.com/hollowcrest/annocache/internal/lineage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cluster, err := clustercache.New(2, clustercache.Limits{MaxLength: 100, MaxBytes: 1 << 20, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { cluster.Close() })

	store := memstore.New()
	return &Server{
		Cluster: cluster,
		Store:   store,
		Writer:  lineage.NewWriter(store, "https://annocache.example.org/v1/id/"),
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)
	return rr
}

func TestCreateRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodPost, "/api/create", map[string]interface{}{"body": "test"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateThenGetByID(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/create",
		map[string]interface{}{"label": "hello"},
		map[string]string{"X-Debug-Agent": "agent-1"})
	require.Equal(t, http.StatusCreated, rr.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	atID, _ := created["@id"].(string)
	require.NotEmpty(t, atID)

	id := atID[len("https://annocache.example.org/v1/id/"):]
	getRR := doJSON(t, srv, http.MethodGet, "/id/"+id, nil, nil)
	require.Equal(t, http.StatusOK, getRR.Code)

	var fetched map[string]interface{}
	require.NoError(t, json.Unmarshal(getRR.Body.Bytes(), &fetched))
	assert.Equal(t, "hello", fetched["label"])
}

func TestGetByIDNotFound(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/id/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "no such object", body["error"])
}

func TestUpdateInvalidatesCachedRead(t *testing.T) {
	srv := newTestServer(t)

	createRR := doJSON(t, srv, http.MethodPost, "/api/create",
		map[string]interface{}{"label": "v1"},
		map[string]string{"X-Debug-Agent": "agent-1"})
	require.Equal(t, http.StatusCreated, createRR.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))
	atID := created["@id"].(string)
	id := atID[len("https://annocache.example.org/v1/id/"):]

	first := doJSON(t, srv, http.MethodGet, "/id/"+id, nil, nil)
	require.Equal(t, http.StatusOK, first.Code)

	updateRR := doJSON(t, srv, http.MethodPut, "/api/update",
		map[string]interface{}{"@id": atID, "body": map[string]interface{}{"label": "v2"}},
		map[string]string{"X-Debug-Agent": "agent-1"})
	require.Equal(t, http.StatusOK, updateRR.Code)
	var updated map[string]interface{}
	require.NoError(t, json.Unmarshal(updateRR.Body.Bytes(), &updated))

	// An update writes a new version under a new id; the prior version keeps
	// its content and gains a history.next link that the cached copy lacks.
	second := doJSON(t, srv, http.MethodGet, "/id/"+id, nil, nil)
	require.Equal(t, http.StatusOK, second.Code)
	var fetched map[string]interface{}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &fetched))
	rerum, _ := fetched["__rerum"].(map[string]interface{})
	history, _ := rerum["history"].(map[string]interface{})
	assert.Equal(t, []interface{}{updated["@id"]}, history["next"])
}

func TestDeleteThenGetReturnsTombstone(t *testing.T) {
	srv := newTestServer(t)

	createRR := doJSON(t, srv, http.MethodPost, "/api/create",
		map[string]interface{}{"label": "to-delete"},
		map[string]string{"X-Debug-Agent": "agent-1"})
	require.Equal(t, http.StatusCreated, createRR.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))
	atID := created["@id"].(string)
	id := atID[len("https://annocache.example.org/v1/id/"):]

	deleteRR := doJSON(t, srv, http.MethodDelete, "/api/delete/"+id, nil,
		map[string]string{"X-Debug-Agent": "agent-1"})
	assert.Equal(t, http.StatusNoContent, deleteRR.Code)

	// Delete rewrites the document in place as a tombstone, so the id still
	// resolves.
	getRR := doJSON(t, srv, http.MethodGet, "/id/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, getRR.Code)
	assert.Contains(t, getRR.Body.String(), "__deleted")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/api/create", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMalformedJSONIsBadInput(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/create", bytes.NewBufferString("{not json"))
	req.Header.Set("X-Debug-Agent", "agent-1")
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)

	health := doJSON(t, srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, health.Code)

	ready := doJSON(t, srv, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, ready.Code)
}

func TestCacheClearRequiresAdminTokenWhenConfigured(t *testing.T) {
	srv := newTestServer(t)
	srv.AdminToken = "secret"

	rr := doJSON(t, srv, http.MethodPost, "/api/cache/clear", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	ok := doJSON(t, srv, http.MethodPost, "/api/cache/clear", nil,
		map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, ok.Code)
}
