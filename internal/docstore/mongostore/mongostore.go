// Package mongostore implements docstore.Store against a real MongoDB
// deployment, grounded on the bounded-context, FindOne/ErrNoDocuments
// query style of kinfkong-modern-mgo's modern_query.go.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hollowcrest/annocache/internal/docmodel"
	"github.com/hollowcrest/annocache/internal/docstore"
)

// queryTimeout bounds every round trip to the driver, mirroring the
// teacher pack's fixed 10s context deadline on mgo query operations.
const queryTimeout = 10 * time.Second

// Store wraps a single mongo-driver collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Config names the connection and collection to open.
type Config struct {
	ConnectionString string
	Database         string
	Collection       string
}

// Connect dials MongoDB, pings it to fail fast on a bad connection string,
// and returns a Store bound to the configured collection.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ConnectionString))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	return &Store{client: client, coll: coll}, nil
}

func (s *Store) InsertOne(ctx context.Context, doc docmodel.Document) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.coll.InsertOne(ctx, bson.M(doc))
	if mongo.IsDuplicateKeyError(err) {
		return docstore.ErrConflict
	}
	return err
}

func (s *Store) FindOne(ctx context.Context, filter map[string]interface{}) (docmodel.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result := s.coll.FindOne(ctx, bson.M(filter))
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}

	var raw bson.M
	if err := result.Decode(&raw); err != nil {
		return nil, err
	}
	return docmodel.Document(raw), nil
}

func (s *Store) Find(ctx context.Context, filter map[string]interface{}, limit, skip int) ([]docmodel.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	opts := options.Find()
	if skip > 0 {
		opts.SetSkip(int64(skip))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	return decodeAll(ctx, cursor)
}

func (s *Store) UpdateOne(ctx context.Context, filter map[string]interface{}, doc docmodel.Document) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := s.coll.ReplaceOne(ctx, bson.M(filter), bson.M(doc))
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteOne(ctx context.Context, filter map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := s.coll.DeleteOne(ctx, bson.M(filter))
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// TextSearch requires a MongoDB text index on the collection (created out
// of band by deployment tooling, §1 Non-goals: index management is not the
// core's responsibility) and delegates ranking entirely to $text.
func (s *Store) TextSearch(ctx context.Context, phrase string, limit, skip int) ([]docmodel.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{"$text": bson.M{"$search": phrase}}
	opts := options.Find().SetSort(bson.M{"score": bson.M{"$meta": "textScore"}})
	if skip > 0 {
		opts.SetSkip(int64(skip))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	return decodeAll(ctx, cursor)
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]docmodel.Document, error) {
	var docs []docmodel.Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		docs = append(docs, docmodel.Document(raw))
	}
	return docs, cursor.Err()
}
