package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hollowcrest/annocache/internal/clustercache"
)

// entryView mirrors clustercache.EntrySnapshot with a wire-friendly age.
type entryView struct {
	Position int     `json:"position"`
	Key      string  `json:"key"`
	AgeMS    int64   `json:"age"`
	Hits     int64   `json:"hits"`
	Length   int     `json:"length"`
	Bytes    int64   `json:"bytes"`
}

type statsView struct {
	Hits          int64       `json:"hits"`
	Misses        int64       `json:"misses"`
	Sets          int64       `json:"sets"`
	Evictions     int64       `json:"evictions"`
	Invalidations int64       `json:"invalidations"`
	Length        int         `json:"length"`
	Bytes         int64       `json:"bytes"`
	TTLMillis     int64       `json:"ttl"`
	MaxLength     int         `json:"maxLength"`
	MaxBytes      int64       `json:"maxBytes"`
	HitRate       float64     `json:"hitRate"`
	Entries       []entryView `json:"entries,omitempty"`
}

// StatsHandler serves GET /api/cache/stats?details=true|false (spec §4.F).
func StatsHandler(cluster *clustercache.Cluster, worker *clustercache.WorkerCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s := cluster.Stats()
		view := statsView{
			Hits: s.Hits, Misses: s.Misses, Sets: s.Sets,
			Evictions: s.Evictions, Invalidations: s.Invalidations,
			Length: s.Length, Bytes: s.Bytes,
			TTLMillis: s.TTL.Milliseconds(),
			MaxLength: s.MaxLength, MaxBytes: s.MaxBytes,
			HitRate: s.HitRate,
		}

		if r.URL.Query().Get("details") == "true" {
			for _, e := range worker.Entries() {
				view.Entries = append(view.Entries, entryView{
					Position: e.Position, Key: e.Key,
					AgeMS: e.Age.Milliseconds(), Hits: e.Hits,
					Length: e.Length, Bytes: e.Bytes,
				})
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

// ClearHandler serves POST /api/cache/clear (spec §4.F), clearing cluster-wide.
func ClearHandler(cluster *clustercache.Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		cluster.Clear()
		w.WriteHeader(http.StatusOK)
	}
}
