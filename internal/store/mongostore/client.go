// Package mongostore keeps the buyer and seller projections in MongoDB.
// Seller counters are changed with guarded single-document updates: the
// operation key is appended to the seller's appliedOps in the same write,
// and the write only matches while the key is absent.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	BuyersCollection  = "buyers"
	SellersCollection = "sellers"

	DefaultDatabase          = "jobber-users"
	DefaultConnectionTimeout = 20 * time.Second
)

// Config selects the MongoDB deployment
type Config struct {
	URI               string
	Database          string
	ConnectionTimeout time.Duration
}

// NewClient connects and pings the primary
func NewClient(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongodb URI is required")
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ConnectionTimeout).
		SetConnectTimeout(cfg.ConnectionTimeout)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}

// Database returns cfg's database, or DefaultDatabase when none is set
func Database(client *mongo.Client, cfg Config) *mongo.Database {
	name := cfg.Database
	if name == "" {
		name = DefaultDatabase
	}
	return client.Database(name)
}

// Disconnect closes client, waiting at most ten seconds
func Disconnect(ctx context.Context, client *mongo.Client) error {
	if client == nil {
		return nil
	}

	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Disconnect(disconnectCtx); err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	return nil
}
