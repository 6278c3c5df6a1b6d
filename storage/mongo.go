package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoCollection is the subset of *mongo.Collection used by the backend,
// abstracted so tests can substitute a fake.
type mongoCollection interface {
	UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) mongoSingleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (mongoCursor, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error)
	CountDocuments(ctx context.Context, filter any, opts ...*options.CountOptions) (int64, error)
}

type mongoSingleResult interface {
	Decode(v any) error
	Err() error
}

type mongoCursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// realMongoCollection adapts *mongo.Collection to mongoCollection.
type realMongoCollection struct {
	col *mongodriver.Collection
}

func (c *realMongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.col.UpdateOne(ctx, filter, update, opts...)
}

func (c *realMongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) mongoSingleResult {
	return c.col.FindOne(ctx, filter, opts...)
}

func (c *realMongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (mongoCursor, error) {
	cur, err := c.col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c *realMongoCollection) DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	return c.col.DeleteOne(ctx, filter, opts...)
}

func (c *realMongoCollection) CountDocuments(ctx context.Context, filter any, opts ...*options.CountOptions) (int64, error) {
	return c.col.CountDocuments(ctx, filter, opts...)
}

type mongoDocument struct {
	ID        string    `bson:"_id"`
	Payload   []byte    `bson:"payload"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoBackend persists sessions as documents in a MongoDB collection.
type MongoBackend struct {
	col mongoCollection
}

// NewMongoBackend creates a backend over an existing collection.
func NewMongoBackend(col *mongodriver.Collection) *MongoBackend {
	return &MongoBackend{col: &realMongoCollection{col: col}}
}

func newMongoBackend(col mongoCollection) *MongoBackend {
	return &MongoBackend{col: col}
}

// ConnectMongo dials MongoDB, verifies connectivity, and returns the named
// collection.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*mongodriver.Collection, error) {
	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, unavailable("ping", err)
	}
	return client.Database(database).Collection(collection), nil
}

// Put upserts the document keyed by id.
func (b *MongoBackend) Put(ctx context.Context, id string, data []byte) error {
	filter := bson.M{"_id": id}
	update := bson.M{
		"$set": bson.M{
			"payload":    data,
			"updated_at": time.Now().UTC(),
		},
	}
	if _, err := b.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return unavailable("update", err)
	}
	return nil
}

// Get retrieves the payload from the document keyed by id.
func (b *MongoBackend) Get(ctx context.Context, id string) ([]byte, error) {
	var doc mongoDocument
	err := b.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, unavailable("find", err)
	}
	return doc.Payload, nil
}

// List returns all stored document IDs.
func (b *MongoBackend) List(ctx context.Context) ([]string, error) {
	cur, err := b.col.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, unavailable("find", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc mongoDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, unavailable("decode", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("cursor", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the document keyed by id.
func (b *MongoBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Exists reports whether a document is keyed by id.
func (b *MongoBackend) Exists(ctx context.Context, id string) (bool, error) {
	n, err := b.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, unavailable("count", err)
	}
	return n > 0, nil
}
