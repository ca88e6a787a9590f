package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trobanga/geochain/internal/lib"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// kvDocument is the stored form of one key
type kvDocument struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Mongo is a Store backed by a MongoDB collection.
// Atomicity comes from the unique _id index and filtered single-document updates.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongo connects to MongoDB and verifies the connection with a ping.
// A nil logger discards.
func NewMongo(ctx context.Context, uri, database, collection string, timeout time.Duration, logger *lib.Logger) (*Mongo, error) {
	if logger == nil {
		logger = lib.DiscardLogger
	}
	logger.Info("Connecting to MongoDB", "database", database, "collection", collection)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Mongo{
		client:     client,
		collection: client.Database(database).Collection(collection),
		timeout:    timeout,
	}, nil
}

func (m *Mongo) Get(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var doc kvDocument
	err := m.collection.FindOne(ctxTimeout, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return doc.Value, true, nil
}

func (m *Mongo) Set(ctx context.Context, key string, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"value": value, "updated_at": time.Now().UTC()}}
	_, err := m.collection.UpdateOne(ctxTimeout, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (m *Mongo) CompareAndSet(ctx context.Context, key string, expected string, value string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := checkValue(value); err != nil {
		return false, err
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	now := time.Now().UTC()

	if expected == "" {
		_, err := m.collection.InsertOne(ctxTimeout, kvDocument{Key: key, Value: value, UpdatedAt: now})
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to insert %s: %w", key, err)
		}
		return true, nil
	}

	filter := bson.M{"_id": key, "value": expected}
	update := bson.M{"$set": bson.M{"value": value, "updated_at": now}}
	result, err := m.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to swap %s: %w", key, err)
	}
	return result.MatchedCount > 0, nil
}

func (m *Mongo) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.collection.DeleteOne(ctxTimeout, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close disconnects the client
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
