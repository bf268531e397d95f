// Package httpapi implements the HTTP router & middleware chain (spec
// §4.I) and the route table of §6, binding the cache middleware surface,
// the write/response barrier, the versioning writer, and the auth adapter
// into the service's external interface. Grounded on the teacher's
// pkg/api (http.ServeMux construction, status/Content-Type conventions).
package httpapi

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hollowcrest/annocache/internal/apierr"
	"github.com/hollowcrest/annocache/internal/auth"
	"github.com/hollowcrest/annocache/internal/barrier"
	"github.com/hollowcrest/annocache/internal/clustercache"
	"github.com/hollowcrest/annocache/internal/docstore"
	"github.com/hollowcrest/annocache/internal/lineage"
	"github.com/hollowcrest/annocache/internal/middleware"
	"github.com/hollowcrest/annocache/internal/obsmetrics"
)

// Server wires every collaborator behind the route table. Verifier is nil
// in dev/test mode, in which case the agent claim is read from the
// X-Debug-Agent header instead of a verified JWT.
type Server struct {
	Cluster        *clustercache.Cluster
	Store          docstore.Store
	Writer         *lineage.Writer
	Verifier       *auth.Verifier
	BarrierTimeout time.Duration
	AdminToken     string

	rrCounter uint64
}

func (s *Server) barrierTimeout() time.Duration {
	if s.BarrierTimeout <= 0 {
		return barrier.DefaultTimeout
	}
	return s.BarrierTimeout
}

// nextWorker round-robins across the cluster's workers, standing in for
// the OS listener's connection handoff across worker processes (see
// DESIGN.md's resolution of the "N worker processes" open question).
func (s *Server) nextWorker() *clustercache.WorkerCache {
	n := atomic.AddUint64(&s.rrCounter, 1)
	return s.Cluster.Worker(int(n % uint64(s.Cluster.WorkerCount())))
}

func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	if s.Verifier == nil {
		agent := r.Header.Get("X-Debug-Agent")
		if agent == "" {
			return auth.Identity{}, apierr.New(apierr.Unauthorized, "missing bearer token")
		}
		return auth.Identity{Agent: agent}, nil
	}

	identity, err := s.Verifier.Authenticate(r.Header.Get("Authorization"))
	switch {
	case err == auth.ErrUnauthorized:
		return auth.Identity{}, apierr.New(apierr.Unauthorized, "missing or invalid token")
	case err == auth.ErrForbidden:
		return auth.Identity{}, apierr.New(apierr.Forbidden, "token missing agent claim")
	case err != nil:
		return auth.Identity{}, apierr.Wrap(apierr.Unauthorized, "token verification failed", err)
	}
	return identity, nil
}

// Routes builds the full route table (spec §6) wrapped in CORS/Allow
// headers common to every response.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/id/", s.handleGetByID)
	mux.HandleFunc("/history/", s.handleHistory)
	mux.HandleFunc("/since/", s.handleSince)
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/search/phrase", s.handleSearchPhrase)

	mux.HandleFunc("/api/create", s.handleCreate)
	mux.HandleFunc("/api/bulkCreate", s.handleBulkCreate)
	mux.HandleFunc("/api/update", s.handleUpdate)
	mux.HandleFunc("/api/bulkUpdate", s.handleBulkUpdate)
	mux.HandleFunc("/api/patch", s.handlePatchLike(lineage.ModePatch))
	mux.HandleFunc("/api/set", s.handlePatchLike(lineage.ModeSet))
	mux.HandleFunc("/api/unset", s.handlePatchLike(lineage.ModeUnset))
	mux.HandleFunc("/api/overwrite", s.handleOverwrite)
	mux.HandleFunc("/api/delete/", s.handleDelete)
	mux.HandleFunc("/api/release/", s.handleRelease)

	mux.HandleFunc("/api/cache/stats", middleware.StatsHandler(s.Cluster, s.Cluster.Worker(0)))
	mux.HandleFunc("/api/cache/clear", s.handleClear)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", obsmetrics.Handler())

	return withCommonHeaders(withMetrics(mux))
}

// defaultAllow lists the methods this API accepts across its route table,
// the always-present Allow value a specific 405 response overrides with
// the one method that route actually permits.
const defaultAllow = "GET, POST, PUT, PATCH, DELETE"

// withCommonHeaders applies the response headers spec §6 requires on
// every response: open CORS and exposed headers for this public,
// token-scoped API, plus a self-referential Link and a default Allow.
func withCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Expose-Headers", "*")
		w.Header().Set("Allow", defaultAllow)
		w.Header().Set("Link", "<"+r.URL.Path+">; rel=\"self\"")
		next.ServeHTTP(w, r)
	})
}

// statusCapture records the status code the wrapped writer sent, for
// request metrics (WriteHeader is not otherwise observable here since the
// barrier's own recorder sits further down the handler chain).
type statusCapture struct {
	http.ResponseWriter
	status int
}

func (c *statusCapture) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

// withMetrics records per-route request counts and durations (spec §6).
// r.Pattern is unavailable on this mux's match path, so the route label is
// the request's URL path with per-document paths collapsed by routeLabel.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := obsmetrics.NewTimer()
		sc := &statusCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sc, r)
		route := routeLabel(r.URL.Path)
		obsmetrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(sc.status)).Inc()
		timer.ObserveDurationVec(obsmetrics.APIRequestDuration, route)
	})
}

// routeLabel collapses a request path down to its route prefix so
// per-document paths (/id/{x}, /api/delete/{x}, ...) don't blow up metric
// cardinality.
func routeLabel(path string) string {
	for _, prefix := range []string{"/id/", "/history/", "/since/", "/api/delete/", "/api/release/"} {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return prefix + "{id}"
		}
	}
	return path
}

// handleClear requires the configured admin token (spec §6: "admin" auth
// on POST /api/cache/clear). An empty AdminToken disables the check for
// local/dev deployments.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.AdminToken != "" && r.Header.Get("Authorization") != "Bearer "+s.AdminToken {
		WriteError(w, apierr.New(apierr.Unauthorized, "admin token required"))
		return
	}
	middleware.ClearHandler(s.Cluster)(w, r)
}
