package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowcrest/annocache/internal/clustercache"
)

func newWorker(t *testing.T) *clustercache.WorkerCache {
	t.Helper()
	c, err := clustercache.New(1, clustercache.DefaultLimits())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c.Worker(0)
}

// TestMissThenHit covers scenario S1.
func TestMissThenHit(t *testing.T) {
	w := newWorker(t)
	calls := 0
	key := QueryKey(map[string]interface{}{"type": "Annotation"}, 0, 0)

	handler := func(rw http.ResponseWriter) {
		calls++
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`[{"@id":"A"}]`))
	}

	rr1 := httptest.NewRecorder()
	ReadThrough(w, key, rr1, handler, nil)
	assert.Equal(t, "MISS", rr1.Header().Get("X-Cache"))
	assert.Equal(t, `[{"@id":"A"}]`, rr1.Body.String())
	assert.Equal(t, 1, calls)

	rr2 := httptest.NewRecorder()
	ReadThrough(w, key, rr2, handler, nil)
	assert.Equal(t, "HIT", rr2.Header().Get("X-Cache"))
	assert.Equal(t, rr1.Body.String(), rr2.Body.String())
	assert.Equal(t, 1, calls, "handler must not run again on a hit")
}

// TestPaginationDifferentiates covers scenario S2.
func TestPaginationDifferentiates(t *testing.T) {
	w := newWorker(t)
	payload := map[string]interface{}{"type": "A"}
	key10 := QueryKey(payload, 10, 0)
	key20 := QueryKey(payload, 20, 0)
	assert.NotEqual(t, key10, key20)

	handler := func(rw http.ResponseWriter) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`[]`))
	}

	rr1 := httptest.NewRecorder()
	ReadThrough(w, key10, rr1, handler, nil)
	assert.Equal(t, "MISS", rr1.Header().Get("X-Cache"))

	rr2 := httptest.NewRecorder()
	ReadThrough(w, key20, rr2, handler, nil)
	assert.Equal(t, "MISS", rr2.Header().Get("X-Cache"))
}

func TestNonOKNotCached(t *testing.T) {
	w := newWorker(t)
	key := IDKey("missing")

	handler := func(rw http.ResponseWriter) {
		rw.WriteHeader(http.StatusNotFound)
		_, _ = rw.Write([]byte(`{"error":"not found"}`))
	}

	rr1 := httptest.NewRecorder()
	ReadThrough(w, key, rr1, handler, nil)
	assert.Equal(t, http.StatusNotFound, rr1.Code)

	rr2 := httptest.NewRecorder()
	ReadThrough(w, key, rr2, handler, nil)
	assert.Equal(t, "MISS", rr2.Header().Get("X-Cache"))
}
