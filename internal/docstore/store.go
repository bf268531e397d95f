// Package docstore defines the document-store collaborator the core treats
// as external (§1, §6): a schema-free document database reachable through a
// small set of primitive operations. The core never reaches past this
// interface into a concrete driver.
package docstore

import (
	"context"
	"errors"

	"github.com/hollowcrest/annocache/internal/docmodel"
)

// ErrNotFound is returned by FindOne when no document matches the filter.
var ErrNotFound = errors.New("docstore: not found")

// ErrConflict is returned by InsertOne when the filter's identity (e.g. a
// caller-chosen slug) is already taken.
var ErrConflict = errors.New("docstore: conflict")

// Store is the primitive document-store interface the core consumes.
// Filters and updates are plain maps rather than a query-builder type —
// the same shape the cache-key predicate engine evaluates against.
type Store interface {
	InsertOne(ctx context.Context, doc docmodel.Document) error
	FindOne(ctx context.Context, filter map[string]interface{}) (docmodel.Document, error)
	Find(ctx context.Context, filter map[string]interface{}, limit, skip int) ([]docmodel.Document, error)
	UpdateOne(ctx context.Context, filter map[string]interface{}, doc docmodel.Document) error
	DeleteOne(ctx context.Context, filter map[string]interface{}) error
	TextSearch(ctx context.Context, phrase string, limit, skip int) ([]docmodel.Document, error)
	Close() error
}
