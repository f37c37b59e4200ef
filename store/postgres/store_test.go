package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/store/postgres"
	"github.com/xraph/notifier/store/storetest"
)

// Set NOTIFIER_TEST_POSTGRES_URL to a disposable database to run the suite.
func TestStore(t *testing.T) {
	url := os.Getenv("NOTIFIER_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("NOTIFIER_TEST_POSTGRES_URL not set")
	}

	storetest.Run(t, func(t *testing.T) notification.Store {
		ctx := context.Background()
		s, err := postgres.New(ctx, url)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })

		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if _, err := s.Pool().Exec(ctx, `TRUNCATE notifier_notifications`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	url := os.Getenv("NOTIFIER_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("NOTIFIER_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	s, err := postgres.New(ctx, url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	for range 2 {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
}
