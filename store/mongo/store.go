package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/notifier/notification"
)

// Collection name constants.
const (
	colNotifications = "notifier_notifications"
)

// Ensure Store implements notification.Store at compile time.
var _ notification.Store = (*Store)(nil)

// Store is a MongoDB implementation of notification.Store.
type Store struct {
	client     *mongod.Client
	db         *mongod.Database
	ownsClient bool
	logger     *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to uri and returns a Store on the named database. Close
// disconnects the client.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("notifier/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("notifier/mongo: ping: %w", err)
	}

	s := New(client.Database(database), opts...)
	s.ownsClient = true
	return s, nil
}

// New creates a Store on an existing database handle. The caller owns the
// client lifecycle; Close does not disconnect it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		client: db.Client(),
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database handle for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the notification indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.collection().Indexes().CreateMany(ctx, migrationIndexes())
	if err != nil {
		return fmt.Errorf("notifier/mongo: migrate %s indexes: %w", colNotifications, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client when the Store opened it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) collection() *mongod.Collection {
	return s.db.Collection(colNotifications)
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for the notification
// collection.
func migrationIndexes() []mongod.IndexModel {
	return []mongod.IndexModel{
		// Due scan: queued statuses by priority then schedule.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "priority_rank", Value: -1},
			{Key: "scheduled_at", Value: 1},
		}},
		// Listing, newest first, optionally filtered by channel.
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{
			{Key: "channel", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		// Stale attempt reaping.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "claimed_at", Value: 1},
		}},
	}
}
