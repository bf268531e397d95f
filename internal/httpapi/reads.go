package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/hollowcrest/annocache/internal/apierr"
	"github.com/hollowcrest/annocache/internal/docmodel"
	"github.com/hollowcrest/annocache/internal/docstore"
	"github.com/hollowcrest/annocache/internal/middleware"
)

func pathTail(prefix, path string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
}

func paginationParams(r *http.Request) (limit, skip int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	skip, _ = strconv.Atoi(q.Get("skip"))
	return limit, skip
}

// handleGetByID serves GET /id/{_id} (spec §4.E: "always emits
// Current-Overwritten-Version").
func (s *Server) handleGetByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := pathTail("/id", r.URL.Path)
	key := middleware.IDKey(id)

	middleware.ReadThrough(s.nextWorker(), key, w, func(rw http.ResponseWriter) {
		doc, err := s.Store.FindOne(r.Context(), map[string]interface{}{docmodel.FieldID: id})
		if err != nil {
			if err == docstore.ErrNotFound {
				WriteError(rw, apierr.New(apierr.NotFound, "no such object"))
				return
			}
			WriteError(rw, apierr.Wrap(apierr.StoreError, "lookup failed", err))
			return
		}
		rw.Header().Set("Current-Overwritten-Version", doc.RerumBlock().IsOverwritten)
		writeJSONOK(rw, doc)
	}, map[string]string{
		"Current-Overwritten-Version": "",
		"Cache-Control":               "max-age=86400, must-revalidate",
	})
}

// handleHistory serves GET /history/{_id}: every version in the chain,
// ordered by lineage links.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := pathTail("/history", r.URL.Path)
	limit, skip := paginationParams(r)
	key := middleware.HistoryKey(id, limit, skip)

	middleware.ReadThrough(s.nextWorker(), key, w, func(rw http.ResponseWriter) {
		chain, err := s.resolveChain(r, id)
		if err != nil {
			WriteError(rw, err)
			return
		}
		writeJSONOK(rw, paginateDocs(chain, limit, skip))
	}, nil)
}

// handleSince serves GET /since/{_id}: the versions from {_id} onward,
// {_id} included, in the root-first breadth-first order resolveChain builds
// (the glossary's "since").
func (s *Server) handleSince(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := pathTail("/since", r.URL.Path)
	limit, skip := paginationParams(r)
	key := middleware.SinceKey(id, limit, skip)

	middleware.ReadThrough(s.nextWorker(), key, w, func(rw http.ResponseWriter) {
		chain, err := s.resolveChain(r, id)
		if err != nil {
			WriteError(rw, err)
			return
		}
		descendants := chain
		for i, d := range chain {
			if d.ID() == id {
				descendants = chain[i:]
				break
			}
		}
		writeJSONOK(rw, paginateDocs(descendants, limit, skip))
	}, nil)
}

// resolveChain walks previous/next links from id's root to every
// descendant, returning the chain ordered root-first.
func (s *Server) resolveChain(r *http.Request, id string) ([]docmodel.Document, *apierr.Error) {
	doc, err := s.Store.FindOne(r.Context(), map[string]interface{}{docmodel.FieldID: id})
	if err != nil {
		if err == docstore.ErrNotFound {
			return nil, apierr.New(apierr.NotFound, "no such object")
		}
		return nil, apierr.Wrap(apierr.StoreError, "lookup failed", err)
	}

	root := doc
	for root.RerumBlock().History.Previous != "" {
		prev, err := s.Store.FindOne(r.Context(), map[string]interface{}{docmodel.FieldAtID: root.RerumBlock().History.Previous})
		if err != nil {
			break
		}
		root = prev
	}

	var chain []docmodel.Document
	queue := []docmodel.Document{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		chain = append(chain, cur)
		for _, next := range cur.RerumBlock().History.Next {
			child, err := s.Store.FindOne(r.Context(), map[string]interface{}{docmodel.FieldAtID: next})
			if err == nil {
				queue = append(queue, child)
			}
		}
	}
	return chain, nil
}

func paginateDocs(docs []docmodel.Document, limit, skip int) []docmodel.Document {
	if skip > len(docs) {
		return []docmodel.Document{}
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// queryBody is the shared request shape for /api/query and /api/search:
// a MongoDB-subset predicate plus pagination.
type queryBody struct {
	Query map[string]interface{} `json:"query"`
	Limit int                     `json:"limit"`
	Skip  int                     `json:"skip"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.handleStructuredRead(w, r, middleware.QueryKey)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.handleStructuredRead(w, r, middleware.SearchKey)
}

// handleStructuredRead implements both /api/query and /api/search: they
// share the same request/response shape and differ only in the cache
// namespace their key function encodes.
func (s *Server) handleStructuredRead(w http.ResponseWriter, r *http.Request, keyFn func(map[string]interface{}, int, int) string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, apierr.New(apierr.BadInput, "malformed json"))
		return
	}
	if body.Query == nil {
		body.Query = map[string]interface{}{}
	}

	key := keyFn(body.Query, body.Limit, body.Skip)
	middleware.ReadThrough(s.nextWorker(), key, w, func(rw http.ResponseWriter) {
		docs, err := s.Store.Find(r.Context(), body.Query, body.Limit, body.Skip)
		if err != nil {
			WriteError(rw, apierr.Wrap(apierr.StoreError, "query failed", err))
			return
		}
		writeJSONOK(rw, docs)
	}, nil)
}

// handleSearchPhrase serves POST /api/search/phrase, a plain-text search
// delegated entirely to the document store (spec §1 Non-goals: "full-text
// search algorithm delegated").
func (s *Server) handleSearchPhrase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var body struct {
		Phrase string `json:"phrase"`
		Limit  int    `json:"limit"`
		Skip   int    `json:"skip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, apierr.New(apierr.BadInput, "malformed json"))
		return
	}

	key := middleware.SearchPhraseKey(body.Phrase, body.Limit, body.Skip)
	middleware.ReadThrough(s.nextWorker(), key, w, func(rw http.ResponseWriter) {
		docs, err := s.Store.TextSearch(r.Context(), body.Phrase, body.Limit, body.Skip)
		if err != nil {
			WriteError(rw, apierr.Wrap(apierr.StoreError, "search failed", err))
			return
		}
		writeJSONOK(rw, docs)
	}, nil)
}

func writeJSONOK(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
