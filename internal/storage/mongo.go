package storage

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// chunkRecord is the Mongo representation of one stored chunk. The flat
// encoded key is the _id, so exact and range lookups both hit the primary
// index.
type chunkRecord struct {
	ID    string `bson:"_id"`
	Value []byte `bson:"value"`
}

// MongoBackend implements Backend on a single Mongo collection.
type MongoBackend struct {
	col *mongo.Collection
}

func NewMongoBackend(col *mongo.Collection) *MongoBackend {
	return &MongoBackend{col: col}
}

func (b *MongoBackend) Put(ctx context.Context, key string, value []byte) error {
	opts := options.Replace().SetUpsert(true)
	_, err := b.col.ReplaceOne(ctx, bson.M{"_id": key}, chunkRecord{ID: key, Value: value}, opts)
	return err
}

func (b *MongoBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var rec chunkRecord
	if err := b.col.FindOne(ctx, bson.M{"_id": key}).Decode(&rec); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return rec.Value, nil
}

func (b *MongoBackend) Delete(ctx context.Context, key string) error {
	_, err := b.col.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (b *MongoBackend) List(ctx context.Context, start, end string) ([]KV, error) {
	filter := bson.M{"_id": bson.M{"$gte": start, "$lt": end}}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := b.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []KV
	for cur.Next(ctx) {
		var rec chunkRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, KV{Key: rec.ID, Value: rec.Value})
	}
	return out, cur.Err()
}

func (b *MongoBackend) DeleteRange(ctx context.Context, start, end string) error {
	_, err := b.col.DeleteMany(ctx, bson.M{"_id": bson.M{"$gte": start, "$lt": end}})
	return err
}
