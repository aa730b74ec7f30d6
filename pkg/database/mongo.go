package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	URI      string
	Database string

	ConnectTimeout time.Duration
}

// DefaultMongoConfig returns sensible defaults for MongoDB.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "chat_db",
		ConnectTimeout: 10 * time.Second,
	}
}

// NewMongoDatabase connects to MongoDB, verifies the connection with a ping,
// and returns a handle to the configured database. The returned close function
// disconnects the underlying client.
func NewMongoDatabase(ctx context.Context, cfg MongoConfig) (*mongo.Database, func(context.Context) error, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client.Database(cfg.Database), client.Disconnect, nil
}
