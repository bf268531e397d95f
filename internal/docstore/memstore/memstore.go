// Package memstore is an in-memory docstore.Store used by unit and
// integration tests so the core's test suite never needs a live MongoDB
// instance, grounded on the teacher's BoltDB store shape (one map keyed by
// document id, filtered/ordered in Go) minus the on-disk persistence.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hollowcrest/annocache/internal/cachekey"
	"github.com/hollowcrest/annocache/internal/docmodel"
	"github.com/hollowcrest/annocache/internal/docstore"
)

// Store is a mutex-guarded map of documents keyed by "_id".
type Store struct {
	mu   sync.RWMutex
	docs map[string]docmodel.Document
	seq  int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{docs: make(map[string]docmodel.Document)}
}

func (s *Store) InsertOne(_ context.Context, doc docmodel.Document) error {
	id := doc.ID()
	if id == "" {
		return docstore.ErrConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; exists {
		return docstore.ErrConflict
	}
	s.docs[id] = docmodel.Clone(doc)
	return nil
}

func (s *Store) FindOne(_ context.Context, filter map[string]interface{}) (docmodel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := filter[docmodel.FieldID].(string); ok && len(filter) == 1 {
		if d, ok := s.docs[id]; ok {
			return docmodel.Clone(d), nil
		}
		return nil, docstore.ErrNotFound
	}
	for _, d := range s.docs {
		if cachekey.Evaluate(d, filter) {
			return docmodel.Clone(d), nil
		}
	}
	return nil, docstore.ErrNotFound
}

func (s *Store) Find(_ context.Context, filter map[string]interface{}, limit, skip int) ([]docmodel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var matched []docmodel.Document
	for _, id := range ids {
		d := s.docs[id]
		if len(filter) == 0 || cachekey.Evaluate(d, filter) {
			matched = append(matched, docmodel.Clone(d))
		}
	}

	return paginate(matched, limit, skip), nil
}

func (s *Store) UpdateOne(_ context.Context, filter map[string]interface{}, doc docmodel.Document) error {
	id, ok := filter[docmodel.FieldID].(string)
	if !ok {
		return docstore.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; !exists {
		return docstore.ErrNotFound
	}
	s.docs[id] = docmodel.Clone(doc)
	return nil
}

func (s *Store) DeleteOne(_ context.Context, filter map[string]interface{}) error {
	id, ok := filter[docmodel.FieldID].(string)
	if !ok {
		return docstore.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; !exists {
		return docstore.ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

// TextSearch performs a case-insensitive substring scan over every string
// value in the document, at any depth. Delegated search ranking (§1 Non-goals) is
// out of scope; this exists only to exercise the search routes in tests.
func (s *Store) TextSearch(_ context.Context, phrase string, limit, skip int) ([]docmodel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	needle := strings.ToLower(phrase)
	var matched []docmodel.Document
	for _, id := range ids {
		d := s.docs[id]
		if containsPhrase(d, needle) {
			matched = append(matched, docmodel.Clone(d))
		}
	}
	return paginate(matched, limit, skip), nil
}

func (s *Store) Close() error { return nil }

func paginate(docs []docmodel.Document, limit, skip int) []docmodel.Document {
	if skip > len(docs) {
		return []docmodel.Document{}
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

func containsPhrase(v interface{}, needle string) bool {
	switch vv := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(vv), needle)
	case map[string]interface{}:
		for _, sub := range vv {
			if containsPhrase(sub, needle) {
				return true
			}
		}
	case []interface{}:
		for _, sub := range vv {
			if containsPhrase(sub, needle) {
				return true
			}
		}
	}
	return false
}
