// Package mongodb stores reporting items in a MongoDB collection
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-peppol-ap/internal/reporting"
)

// Config holds MongoDB connection settings
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// Store implements reporting.Backend using MongoDB
type Store struct {
	client *mongo.Client
	items  collection
}

// NewStore connects to MongoDB and prepares the reporting collection
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	name := cfg.Collection
	if name == "" {
		name = "reporting_items"
	}
	coll := client.Database(cfg.Database).Collection(name)

	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "exchange_dt", Value: 1}}},
		{Keys: bson.D{{Key: "direction", Value: 1}, {Key: "exchange_dt", Value: 1}}},
		{Keys: bson.D{{Key: "as4_message_id", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating reporting indexes: %w", err)
	}

	return &Store{client: client, items: coll}, nil
}

// Store implements reporting.Backend. Storing an item twice is not an error.
func (s *Store) Store(ctx context.Context, item reporting.Item) error {
	_, err := s.items.InsertOne(ctx, item)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("inserting reporting item %s: %w", item.ID, err)
	}
	return nil
}

// Close disconnects from MongoDB
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return err
	}
	return nil
}
