// Package postgres implements notification.Store using pgx/v5 with raw SQL.
// Compare-and-swap writes are a single UPDATE guarded by the version column,
// metadata is stored as JSONB, and schema changes ship as embedded SQL
// migrations.
package postgres
