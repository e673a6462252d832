// Package mongodb stores the products and bills collections in MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect dials uri and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// DocumentStore maps each store collection onto a MongoDB collection of the
// same name. Generated ids are ObjectID hex strings; caller-supplied ids are
// stored as plain string _id values.
type DocumentStore struct {
	db *mongo.Database
}

var _ store.DocumentStore = (*DocumentStore)(nil)

func NewDocumentStore(db *mongo.Database) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) coll(c store.Collection) *mongo.Collection {
	return s.db.Collection(string(c))
}

func (s *DocumentStore) GetAll(ctx context.Context, c store.Collection) ([]store.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "$natural", Value: 1}}).SetBatchSize(500)
	cursor, err := s.coll(c).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c, err)
	}
	defer cursor.Close(ctx)

	out := make([]store.Record, 0)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", c, err)
		}
		out = append(out, toRecord(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", c, err)
	}
	return out, nil
}

func (s *DocumentStore) Create(ctx context.Context, c store.Collection, data store.Record) (string, error) {
	doc, id := toDocument(data)
	if _, err := s.coll(c).InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to create %s document: %w", c, err)
	}
	return id, nil
}

// CreateMany inserts records with one ordered InsertMany call.
func (s *DocumentStore) CreateMany(ctx context.Context, c store.Collection, records []store.Record) ([]string, error) {
	if len(records) == 0 {
		return []string{}, nil
	}
	docs := make([]any, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		doc, id := toDocument(rec)
		docs = append(docs, doc)
		ids = append(ids, id)
	}
	if _, err := s.coll(c).InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("failed to create %s documents: %w", c, err)
	}
	return ids, nil
}

func (s *DocumentStore) Update(ctx context.Context, c store.Collection, id string, partial store.Record) error {
	fields := bson.M{}
	for k, v := range store.WithoutID(partial) {
		fields[k] = v
	}
	if len(fields) == 0 {
		return nil
	}

	res, err := s.coll(c).UpdateOne(ctx, idFilter(id), bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", c, id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, c store.Collection, id string) error {
	res, err := s.coll(c).DeleteOne(ctx, idFilter(id))
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c, id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}
	return nil
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
}

// Subscribe follows a change stream on the collection. Change streams need
// a replica set or sharded cluster.
func (s *DocumentStore) Subscribe(ctx context.Context, c store.Collection, fn func(store.Change)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := s.coll(c).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", c, err)
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				log.Warn().Err(err).Str("collection", string(c)).Msg("ignoring undecodable change event")
				continue
			}
			op, ok := changeOp(ev.OperationType)
			if !ok {
				continue
			}
			fn(store.Change{Collection: c, ID: idString(ev.DocumentKey.ID), Op: op})
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("collection", string(c)).Msg("change stream closed")
		}
	}()

	return cancel, nil
}

func changeOp(operationType string) (store.ChangeOp, bool) {
	switch operationType {
	case "insert":
		return store.OpCreate, true
	case "update", "replace":
		return store.OpUpdate, true
	case "delete":
		return store.OpDelete, true
	}
	return "", false
}

// toDocument converts a record into a bson document and returns the id it
// will be stored under.
func toDocument(data store.Record) (bson.M, string) {
	doc := bson.M{}
	for k, v := range store.WithoutID(data) {
		doc[k] = v
	}
	if id := data.ID(); id != "" {
		doc["_id"] = id
		return doc, id
	}
	oid := primitive.NewObjectID()
	doc["_id"] = oid
	return doc, oid.Hex()
}

func toRecord(doc bson.M) store.Record {
	rec := store.Record{}
	for k, v := range doc {
		if k == "_id" {
			rec[store.IDField] = idString(v)
			continue
		}
		rec[k] = normalize(v)
	}
	return rec
}

// normalize unwraps the driver's container types so records look the same
// as the other stores'.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = normalize(inner)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = normalize(inner)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case primitive.ObjectID:
		return t.Hex()
	}
	return v
}

func idString(v any) string {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case string:
		return t
	}
	return fmt.Sprint(v)
}

// idFilter matches a hex id stored either as an ObjectID or as a string.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}
