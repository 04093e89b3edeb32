package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoPoolSize       = 20
	defaultMongoConnectTimeout = 10 * time.Second
	mongoAppName               = "shopfront-storefront"
)

// MongoConfig selects the order database. Zero pool size and timeout mean
// the defaults.
type MongoConfig struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

func (c MongoConfig) clientOptions() *options.ClientOptions {
	pool := c.MaxPoolSize
	if pool == 0 {
		pool = defaultMongoPoolSize
	}
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultMongoConnectTimeout
	}
	return options.Client().
		ApplyURI(c.URI).
		SetAppName(mongoAppName).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout / 2).
		SetMaxPoolSize(pool)
}

// ConnectMongoDB connects and pings before returning the order database.
func ConnectMongoDB(ctx context.Context, cfg MongoConfig) (*mongo.Database, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongo database name is required")
	}

	client, err := mongo.Connect(ctx, cfg.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(cfg.Database), nil
}
