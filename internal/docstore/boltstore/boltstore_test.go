package boltstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowcrest/annocache/internal/docmodel"
	"github.com/hollowcrest/annocache/internal/docstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndFindOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := docmodel.Document{"_id": "abc123", "body": "hello"}
	require.NoError(t, s.InsertOne(ctx, doc))

	got, err := s.FindOne(ctx, map[string]interface{}{"_id": "abc123"})
	require.NoError(t, err)
	assert.Equal(t, "hello", got["body"])
}

func TestInsertConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := docmodel.Document{"_id": "dup"}
	require.NoError(t, s.InsertOne(ctx, doc))
	err := s.InsertOne(ctx, doc)
	assert.ErrorIs(t, err, docstore.ErrConflict)
}

func TestFindOneNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindOne(context.Background(), map[string]interface{}{"_id": "missing"})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestFindWithPredicateAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, s.InsertOne(ctx, docmodel.Document{
			"_id":  id,
			"type": "Annotation",
			"rank": i,
		}))
	}
	require.NoError(t, s.InsertOne(ctx, docmodel.Document{"_id": "z", "type": "Other"}))

	docs, err := s.Find(ctx, map[string]interface{}{"type": "Annotation"}, 2, 1)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0]["_id"])
	assert.Equal(t, "c", docs[1]["_id"])
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertOne(ctx, docmodel.Document{"_id": "x", "v": 1}))

	require.NoError(t, s.UpdateOne(ctx, map[string]interface{}{"_id": "x"}, docmodel.Document{"_id": "x", "v": 2}))
	got, err := s.FindOne(ctx, map[string]interface{}{"_id": "x"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, got["v"])

	require.NoError(t, s.DeleteOne(ctx, map[string]interface{}{"_id": "x"}))
	_, err = s.FindOne(ctx, map[string]interface{}{"_id": "x"})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestTextSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertOne(ctx, docmodel.Document{"_id": "1", "body": "the quick fox"}))
	require.NoError(t, s.InsertOne(ctx, docmodel.Document{"_id": "2", "body": "lazy dog"}))

	docs, err := s.TextSearch(ctx, "QUICK", 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "1", docs[0]["_id"])
}

func TestUpdateMissingNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateOne(context.Background(), map[string]interface{}{"_id": "ghost"}, docmodel.Document{"_id": "ghost"})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestReopenPersistsData(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.InsertOne(context.Background(), docmodel.Document{"_id": "durable", "v": 1}))
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.FindOne(context.Background(), map[string]interface{}{"_id": "durable"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, got["v"])
}
