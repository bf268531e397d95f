// Package boltstore is a go.etcd.io/bbolt-backed docstore.Store for
// standalone/dev-mode deployments that don't run a MongoDB instance,
// adapted directly from the teacher's pkg/storage bucket/transaction CRUD
// pattern (one bucket, JSON-marshaled values keyed by document id).
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/hollowcrest/annocache/internal/cachekey"
	"github.com/hollowcrest/annocache/internal/docmodel"
	"github.com/hollowcrest/annocache/internal/docstore"
)

var bucketDocuments = []byte("documents")

// Store implements docstore.Store against a single bbolt bucket.
type Store struct {
	db *bolt.DB
}

// Open creates/opens the database file under dataDir and ensures the
// documents bucket exists.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "annocache.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDocuments)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertOne(_ context.Context, doc docmodel.Document) error {
	id := doc.ID()
	if id == "" {
		return docstore.ErrConflict
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		if b.Get([]byte(id)) != nil {
			return docstore.ErrConflict
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *Store) FindOne(_ context.Context, filter map[string]interface{}) (docmodel.Document, error) {
	if id, ok := filter[docmodel.FieldID].(string); ok && len(filter) == 1 {
		var doc docmodel.Document
		err := s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketDocuments)
			data := b.Get([]byte(id))
			if data == nil {
				return docstore.ErrNotFound
			}
			return json.Unmarshal(data, &doc)
		})
		if err != nil {
			return nil, err
		}
		return doc, nil
	}

	var found docmodel.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		return b.ForEach(func(_, v []byte) error {
			if found != nil {
				return nil
			}
			var doc docmodel.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if cachekey.Evaluate(doc, filter) {
				found = doc
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, docstore.ErrNotFound
	}
	return found, nil
}

func (s *Store) Find(_ context.Context, filter map[string]interface{}, limit, skip int) ([]docmodel.Document, error) {
	var docs []docmodel.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		return b.ForEach(func(_, v []byte) error {
			var doc docmodel.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if len(filter) == 0 || cachekey.Evaluate(doc, filter) {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return paginate(docs, limit, skip), nil
}

func (s *Store) UpdateOne(_ context.Context, filter map[string]interface{}, doc docmodel.Document) error {
	id, ok := filter[docmodel.FieldID].(string)
	if !ok {
		return docstore.ErrNotFound
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		if b.Get([]byte(id)) == nil {
			return docstore.ErrNotFound
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *Store) DeleteOne(_ context.Context, filter map[string]interface{}) error {
	id, ok := filter[docmodel.FieldID].(string)
	if !ok {
		return docstore.ErrNotFound
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		if b.Get([]byte(id)) == nil {
			return docstore.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// TextSearch does a case-insensitive substring scan over the bucket, the
// same best-effort behavior as memstore; full-text indexing is left to
// the mongostore backend.
func (s *Store) TextSearch(_ context.Context, phrase string, limit, skip int) ([]docmodel.Document, error) {
	needle := strings.ToLower(phrase)
	var docs []docmodel.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		return b.ForEach(func(_, v []byte) error {
			var doc docmodel.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if containsPhrase(doc, needle) {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return paginate(docs, limit, skip), nil
}

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
