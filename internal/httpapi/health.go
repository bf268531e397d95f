// Health and readiness endpoints, adapted from the teacher's
// pkg/api.HealthServer shape (liveness vs. readiness, ReadyResponse.Checks
// map) onto this service's collaborators: the document store and the
// cluster cache's workers.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the /health liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready readiness payload.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if s.Cluster.WorkerCount() > 0 {
		checks["clustercache"] = "ok"
	} else {
		checks["clustercache"] = "no workers"
		ready = false
		message = "cluster cache has no workers"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.Store.Find(ctx, map[string]interface{}{}, 1, 0); err != nil {
		checks["docstore"] = "error: " + err.Error()
		ready = false
		if message == "" {
			message = "document store not reachable"
		}
	} else {
		checks["docstore"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ReadyResponse{
		Status: status, Timestamp: time.Now(), Checks: checks, Message: message,
	})
}
