// Package store implements the MongoDB-backed collaborators named in
// spec.md §4.4/§4.10/§6: historical market data reads (C4), session
// configuration (part of C10), and dataset metadata. It is grounded on
// the teacher's internal/persist package (connection setup, index
// creation, aggregation-pipeline query style) generalized from a single
// fixed-schema feed database to the multi-collection layout this domain
// needs.
package store

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultDBName = "exchangesim"

// Store wraps the MongoDB client and database shared by every collection
// in this package.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and returns a Store. uri should include the
// database name (mongodb://host:27017/exchangesim); if absent,
// defaultDBName is used.
func Connect(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := defaultDBName
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	log.Printf("connected to MongoDB (db=%s)", dbName)
	return &Store{client: client, db: client.Database(dbName)}, nil
}

func (s *Store) Close(ctx context.Context) { s.client.Disconnect(ctx) }

func (s *Store) DB() *mongo.Database { return s.db }

func (s *Store) Client() *mongo.Client { return s.client }

// Migrate creates every collection's indexes. Safe to call on every
// process start: CreateOne is idempotent for an identical index spec.
func (s *Store) Migrate(ctx context.Context) error {
	return EnsureIndexes(ctx, s.db)
}
