package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/hollowcrest/annocache/internal/apierr"
	"github.com/hollowcrest/annocache/internal/barrier"
	"github.com/hollowcrest/annocache/internal/docmodel"
	"github.com/hollowcrest/annocache/internal/invalidate"
	"github.com/hollowcrest/annocache/internal/lineage"
)

func decodeBody(r *http.Request) (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, apierr.New(apierr.BadInput, "malformed json")
	}
	return body, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, authErr := s.authenticate(r)
	if authErr != nil {
		WriteError(w, authErr)
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	worker := s.nextWorker()
	var event *invalidate.Event
	barrier.Guard(w, barrier.Config{Cache: worker, Cluster: s.Cluster, Timeout: s.barrierTimeout()}, func(rw http.ResponseWriter) {
		doc, err := s.Writer.Create(r.Context(), body, identity.Agent, r.Header.Get("Slug"))
		if err != nil {
			WriteError(rw, err)
			return
		}
		event = &invalidate.Event{Kind: invalidate.KindCreate, After: doc}
		rw.Header().Set("Location", doc.AtID())
		writeJSONStatus(rw, http.StatusCreated, doc)
	}, func() *invalidate.Event { return event })
}

func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, authErr := s.authenticate(r)
	if authErr != nil {
		WriteError(w, authErr)
		return
	}
	var bodies []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&bodies); err != nil {
		WriteError(w, apierr.New(apierr.BadInput, "malformed json"))
		return
	}

	worker := s.nextWorker()
	var created []docmodel.Document
	var firstErr error
	barrier.Guard(w, barrier.Config{Cache: worker, Cluster: s.Cluster, Timeout: s.barrierTimeout()}, func(rw http.ResponseWriter) {
		for _, b := range bodies {
			doc, err := s.Writer.Create(r.Context(), b, identity.Agent, "")
			if err != nil {
				firstErr = err
				break
			}
			created = append(created, doc)
		}
		if firstErr != nil {
			WriteError(rw, firstErr)
			return
		}
		writeJSONStatus(rw, http.StatusCreated, created)
	}, func() *invalidate.Event {
		var evicted int
		for _, doc := range created {
			evicted += invalidate.Run(worker, invalidate.Event{Kind: invalidate.KindCreate, After: doc})
		}
		s.Cluster.IncrInvalidations(evicted)
		return nil
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.handleVersionWrite(w, r, http.MethodPut, nil)
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	identity, authErr := s.authenticate(r)
	if authErr != nil {
		WriteError(w, authErr)
		return
	}
	var items []struct {
		AtID string                 `json:"@id"`
		Body map[string]interface{} `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		WriteError(w, apierr.New(apierr.BadInput, "malformed json"))
		return
	}

	worker := s.nextWorker()
	var afters, befores []docmodel.Document
	var firstErr error
	barrier.Guard(w, barrier.Config{Cache: worker, Cluster: s.Cluster, Timeout: s.barrierTimeout()}, func(rw http.ResponseWriter) {
		for _, item := range items {
			after, before, err := s.Writer.Update(r.Context(), item.AtID, item.Body, identity.Agent)
			if err != nil {
				firstErr = err
				break
			}
			afters = append(afters, after)
			befores = append(befores, before)
		}
		if firstErr != nil {
			WriteError(rw, firstErr)
			return
		}
		writeJSONStatus(rw, http.StatusOK, afters)
	}, func() *invalidate.Event {
		var evicted int
		for i := range afters {
			evicted += invalidate.Run(worker, invalidate.Event{Kind: invalidate.KindUpdate, After: afters[i], Before: befores[i]})
		}
		s.Cluster.IncrInvalidations(evicted)
		return nil
	})
}

// handleVersionWrite implements /api/update (expectedMethod PUT) and, via
// handlePatchLike, /api/patch, /api/set, /api/unset (expectedMethod PATCH).
func (s *Server) handleVersionWrite(w http.ResponseWriter, r *http.Request, expectedMethod string, mode *lineage.Mode) {
	if r.Method != expectedMethod {
		methodNotAllowed(w, expectedMethod)
		return
	}
	identity, authErr := s.authenticate(r)
	if authErr != nil {
		WriteError(w, authErr)
		return
	}
	var payload struct {
		AtID string                 `json:"@id"`
		Body map[string]interface{} `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, apierr.New(apierr.BadInput, "malformed json"))
		return
	}

	worker := s.nextWorker()
	var event *invalidate.Event
	barrier.Guard(w, barrier.Config{Cache: worker, Cluster: s.Cluster, Timeout: s.barrierTimeout()}, func(rw http.ResponseWriter) {
		var after, before docmodel.Document
		var err error
		if mode == nil {
			after, before, err = s.Writer.Update(r.Context(), payload.AtID, payload.Body, identity.Agent)
		} else {
			after, before, err = s.Writer.Mutate(r.Context(), payload.AtID, payload.Body, identity.Agent, *mode)
		}
		if err != nil {
			WriteError(rw, err)
			return
		}
		event = &invalidate.Event{Kind: invalidate.KindUpdate, After: after, Before: before}
		rw.Header().Set("Location", after.AtID())
		writeJSONStatus(rw, http.StatusOK, after)
	}, func() *invalidate.Event { return event })
}

func (s *Server) handlePatchLike(mode lineage.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := mode
		s.handleVersionWrite(w, r, http.MethodPatch, &m)
	}
}

func (s *Server) handleOverwrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	if _, authErr := s.authenticate(r); authErr != nil {
		WriteError(w, authErr)
		return
	}
	var payload struct {
		AtID string                 `json:"@id"`
		Body map[string]interface{} `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, apierr.New(apierr.BadInput, "malformed json"))
		return
	}

	var expected *string
	if vals, ok := r.Header["If-Overwritten-Version"]; ok && len(vals) > 0 {
		// A present but empty header is a real precondition: it expects a
		// document that has never been overwritten.
		v := vals[0]
		expected = &v
	} else if v, ok := payload.Body["__expectedVersion"].(string); ok {
		expected = &v
	}

	worker := s.nextWorker()
	var event *invalidate.Event
	barrier.Guard(w, barrier.Config{Cache: worker, Cluster: s.Cluster, Timeout: s.barrierTimeout()}, func(rw http.ResponseWriter) {
		after, before, err := s.Writer.Overwrite(r.Context(), payload.AtID, payload.Body, expected)
		if err != nil {
			WriteError(rw, err)
			return
		}
		event = &invalidate.Event{Kind: invalidate.KindOverwrite, After: after, Before: before}
		rw.Header().Set("Current-Overwritten-Version", after.RerumBlock().IsOverwritten)
		writeJSONStatus(rw, http.StatusOK, after)
	}, func() *invalidate.Event { return event })
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	identity, authErr := s.authenticate(r)
	if authErr != nil {
		WriteError(w, authErr)
		return
	}
	id := pathTail("/api/delete", r.URL.Path)

	worker := s.nextWorker()
	var event *invalidate.Event
	barrier.Guard(w, barrier.Config{Cache: worker, Cluster: s.Cluster, Timeout: s.barrierTimeout()}, func(rw http.ResponseWriter) {
		before, err := s.Writer.Delete(r.Context(), s.Writer.IDPrefix+id, identity.Agent)
		if err != nil {
			WriteError(rw, err)
			return
		}
		event = &invalidate.Event{Kind: invalidate.KindDelete, Before: before}
		rw.WriteHeader(http.StatusNoContent)
	}, func() *invalidate.Event { return event })
}

// handleRelease serves PATCH /api/release/{_id}: never invalidates (§3
// supplement), so it bypasses the barrier entirely.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, http.MethodPatch)
		return
	}
	if _, authErr := s.authenticate(r); authErr != nil {
		WriteError(w, authErr)
		return
	}
	id := pathTail("/api/release", r.URL.Path)

	doc, err := s.Writer.Release(r.Context(), s.Writer.IDPrefix+id)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, doc)
}

func writeJSONStatus(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
