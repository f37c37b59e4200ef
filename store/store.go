// Package store selects and opens a notification.Store backend by name.
package store

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/store/memory"
	"github.com/xraph/notifier/store/mongo"
	"github.com/xraph/notifier/store/postgres"
	redisstore "github.com/xraph/notifier/store/redis"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

// Config selects a backend.
type Config struct {
	// Driver is one of memory, postgres, mongo or redis.
	Driver string
	// URL is the backend connection string. Ignored for memory.
	URL string
	// Database names the MongoDB database. Defaults to "notifier".
	Database string
}

// Open connects to the configured backend and runs its migrations.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (notification.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		s   notification.Store
		err error
	)
	switch cfg.Driver {
	case DriverMemory, "":
		s = memory.New()
	case DriverPostgres:
		s, err = postgres.New(ctx, cfg.URL, postgres.WithLogger(logger))
	case DriverMongo:
		db := cfg.Database
		if db == "" {
			db = "notifier"
		}
		s, err = mongo.Open(ctx, cfg.URL, db, mongo.WithLogger(logger))
	case DriverRedis:
		s, err = openRedis(cfg.URL, logger)
	default:
		return nil, fmt.Errorf("notifier/store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("notifier/store: ping %s: %w", cfg.Driver, err)
	}
	return s, nil
}

// ownedRedis closes the client it was opened with.
type ownedRedis struct {
	*redisstore.Store
	client *goredis.Client
}

func (o ownedRedis) Close() error { return o.client.Close() }

func openRedis(url string, logger *slog.Logger) (notification.Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("notifier/store: parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	return ownedRedis{Store: redisstore.New(client, redisstore.WithLogger(logger)), client: client}, nil
}
