// Package middleware implements the cache middleware surface (spec §4.F):
// per-route read interceptors that serve from the cluster cache on HIT and
// populate it on a 200-status MISS, plus the cache management endpoints.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/hollowcrest/annocache/internal/cachekey"
	"github.com/hollowcrest/annocache/internal/clustercache"
)

// cachedResponse is what ReadThrough stores and replays: the exact bytes,
// status, content type and handler-set headers previously served for this
// key.
type cachedResponse struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Header      http.Header
}

// IDKey builds the scalar key for GET /id/{_id}.
func IDKey(id string) string { return cachekey.ScalarKey("id", id) }

// HistoryKey builds the scalar key for GET /history/{_id}.
func HistoryKey(id string, limit, skip int) string {
	return cachekey.ScalarKey("history", id, strconv.Itoa(limit), strconv.Itoa(skip))
}

// SinceKey builds the scalar key for GET /since/{_id}.
func SinceKey(id string, limit, skip int) string {
	return cachekey.ScalarKey("since", id, strconv.Itoa(limit), strconv.Itoa(skip))
}

// QueryKey builds the structured key for POST /api/query.
func QueryKey(payload map[string]interface{}, limit, skip int) string {
	return cachekey.StructuredKey("query", payload, limit, skip)
}

// SearchKey builds the structured key for POST /api/search.
func SearchKey(payload map[string]interface{}, limit, skip int) string {
	return cachekey.StructuredKey("search", payload, limit, skip)
}

// SearchPhraseKey builds the structured key for POST /api/search/phrase.
func SearchPhraseKey(phrase string, limit, skip int) string {
	return cachekey.StructuredKey("searchPhrase", phrase, limit, skip)
}

// ReadThrough serves key from cache on HIT (setting X-Cache: HIT) or calls
// handler on MISS (setting X-Cache: MISS), caching the result only if the
// handler responded with HTTP 200. extraHeaders are applied to every
// response regardless of HIT/MISS (e.g. Cache-Control on /id/{_id}).
func ReadThrough(cache *clustercache.WorkerCache, key string, w http.ResponseWriter, handler func(http.ResponseWriter), extraHeaders map[string]string) {
	for k, v := range extraHeaders {
		w.Header().Set(k, v)
	}

	if cached, ok := cache.Get(key); ok {
		resp := cached.(cachedResponse)
		for k, v := range resp.Header {
			w.Header()[k] = append([]string(nil), v...)
		}
		w.Header().Set("X-Cache", "HIT")
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
		return
	}

	w.Header().Set("X-Cache", "MISS")
	rec := newCapture()
	handler(rec)

	if rec.statusCode == http.StatusOK {
		cache.Set(key, cachedResponse{
			StatusCode:  rec.statusCode,
			Body:        append([]byte(nil), rec.body.Bytes()...),
			ContentType: rec.header.Get("Content-Type"),
			Header:      rec.header.Clone(),
		})
	}

	rec.flush(w)
}
