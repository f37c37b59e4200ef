package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/xraph/notifier"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate runs all embedded SQL migration files in order. Applied files are
// recorded in notifier_migrations and skipped on later runs.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS notifier_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", notifier.ErrMigrationFailed, err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: read migrations: %w", notifier.ErrMigrationFailed, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM notifier_migrations WHERE filename = $1)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("%w: check %s: %w", notifier.ErrMigrationFailed, entry.Name(), err)
		}
		if applied {
			continue
		}

		data, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return fmt.Errorf("%w: read %s: %w", notifier.ErrMigrationFailed, entry.Name(), err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%w: begin %s: %w", notifier.ErrMigrationFailed, entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: execute %s: %w", notifier.ErrMigrationFailed, entry.Name(), err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO notifier_migrations (filename) VALUES ($1)`,
			entry.Name(),
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: record %s: %w", notifier.ErrMigrationFailed, entry.Name(), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: commit %s: %w", notifier.ErrMigrationFailed, entry.Name(), err)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}

	return nil
}
