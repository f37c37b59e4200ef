package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

const columns = `
	id, channel, recipient, subject, message, priority, status, metadata,
	scheduled_at, sent_at, retry_count, max_retries, error_message, version,
	attempt_token, worker_id, claimed_at, cancel_requested, created_at, updated_at`

// Create persists a new notification.
func (s *Store) Create(ctx context.Context, n *notification.Notification) error {
	if n.ID.IsNil() {
		n.ID = id.New()
	}
	if n.CreatedAt.IsZero() {
		n.Entity = notifier.NewEntity(time.Now())
	}
	n.Version = 1

	meta, err := encodeMetadata(n.Metadata)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notifier_notifications (
			id, channel, recipient, subject, message, priority, priority_rank,
			status, metadata, scheduled_at, sent_at, retry_count, max_retries,
			error_message, version, attempt_token, worker_id, claimed_at,
			cancel_requested, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21
		)`,
		n.ID.String(), string(n.Channel), n.Recipient, n.Subject, n.Message,
		string(n.Priority), n.Priority.Rank(),
		string(n.Status), meta, n.ScheduledAt, n.SentAt, n.RetryCount, n.MaxRetries,
		n.ErrorMessage, n.Version, n.AttemptToken, n.WorkerID, n.ClaimedAt,
		n.CancelRequested, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("notifier/postgres: notification %s already exists: %w", n.ID, err)
		}
		return fmt.Errorf("notifier/postgres: create notification: %w", err)
	}
	return nil
}

// Get retrieves a notification by ID.
func (s *Store) Get(ctx context.Context, nid id.ID) (*notification.Notification, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+columns+` FROM notifier_notifications WHERE id = $1`, nid.String())

	n, err := scanNotification(row)
	if err != nil {
		if isNoRows(err) {
			return nil, notifier.ErrNotFound
		}
		return nil, fmt.Errorf("notifier/postgres: get notification: %w", err)
	}
	return n, nil
}

// List returns one page ordered by created_at descending.
func (s *Store) List(ctx context.Context, opts notification.ListOpts) ([]*notification.Notification, int64, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if opts.Channel != "" {
		args = append(args, string(opts.Channel))
		where = append(where, "channel = $"+strconv.Itoa(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifier_notifications`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("notifier/postgres: count notifications: %w", err)
	}

	query := `SELECT ` + columns + ` FROM notifier_notifications` + clause +
		` ORDER BY created_at DESC, id DESC`
	if opts.PageSize > 0 {
		args = append(args, opts.PageSize, opts.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("notifier/postgres: list notifications: %w", err)
	}
	defer rows.Close()

	items, err := collectNotifications(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update applies p unconditionally.
func (s *Store) Update(ctx context.Context, nid id.ID, p notification.Patch) (*notification.Notification, error) {
	query, args, err := buildUpdate(nid, p, nil)
	if err != nil {
		return nil, err
	}

	n, err := scanNotification(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, notifier.ErrNotFound
		}
		return nil, fmt.Errorf("notifier/postgres: update notification: %w", err)
	}
	return n, nil
}

// Delete removes a notification.
func (s *Store) Delete(ctx context.Context, nid id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifier_notifications WHERE id = $1`, nid.String())
	if err != nil {
		return fmt.Errorf("notifier/postgres: delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifier.ErrNotFound
	}
	return nil
}

// CompareAndSwap applies p only if the stored version matches. The check
// and the write are one UPDATE statement.
func (s *Store) CompareAndSwap(ctx context.Context, nid id.ID, expectedVersion int64, p notification.Patch) (*notification.Notification, error) {
	query, args, err := buildUpdate(nid, p, &expectedVersion)
	if err != nil {
		return nil, err
	}

	n, err := scanNotification(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return n, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("notifier/postgres: compare and swap: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM notifier_notifications WHERE id = $1)`, nid.String(),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("notifier/postgres: compare and swap: %w", err)
	}
	if !exists {
		return nil, notifier.ErrNotFound
	}
	return nil, notifier.ErrConflict
}

// ListDue returns due pending/scheduled notifications in dispatch order.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*notification.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+columns+`
		FROM notifier_notifications
		WHERE status IN ('pending', 'scheduled')
		  AND (scheduled_at IS NULL OR scheduled_at <= $1)
		ORDER BY priority_rank DESC, COALESCE(scheduled_at, created_at) ASC, id ASC
		LIMIT $2`,
		now.UTC(), limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("notifier/postgres: list due: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// ListStale returns in_flight notifications claimed before the given time.
func (s *Store) ListStale(ctx context.Context, before time.Time, limit int) ([]*notification.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+columns+`
		FROM notifier_notifications
		WHERE status = 'in_flight' AND claimed_at < $1
		ORDER BY claimed_at ASC
		LIMIT $2`,
		before.UTC(), limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("notifier/postgres: list stale: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// CountByStatus returns the number of notifications per status.
func (s *Store) CountByStatus(ctx context.Context) (map[notification.Status]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM notifier_notifications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("notifier/postgres: count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[notification.Status]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("notifier/postgres: scan status count: %w", err)
		}
		counts[notification.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifier/postgres: iterate status counts: %w", err)
	}
	return counts, nil
}

// buildUpdate renders p as an UPDATE ... RETURNING statement. When
// expectedVersion is set the row must also carry that version.
func buildUpdate(nid id.ID, p notification.Patch, expectedVersion *int64) (string, []any, error) {
	args := []any{nid.String()}
	var sets []string
	var encodeErr error

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	p.Visit(func(name string, value any) {
		switch name {
		case notification.FieldMetadata:
			meta, err := encodeMetadata(p.Metadata.Value)
			if err != nil {
				encodeErr = err
				return
			}
			add(name, meta)
		case notification.FieldPriority:
			add(name, value)
			add("priority_rank", p.Priority.Value.Rank())
		default:
			add(name, value)
		}
	})
	if encodeErr != nil {
		return "", nil, encodeErr
	}

	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	add("updated_at", updatedAt.UTC())
	sets = append(sets, "version = version + 1")

	query := `UPDATE notifier_notifications SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	if expectedVersion != nil {
		args = append(args, *expectedVersion)
		query += " AND version = $" + strconv.Itoa(len(args))
	}
	query += ` RETURNING ` + columns
	return query, args, nil
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n                        notification.Notification
		idStr, channel, priority string
		status                   string
		meta                     []byte
	)
	err := row.Scan(
		&idStr, &channel, &n.Recipient, &n.Subject, &n.Message, &priority, &status, &meta,
		&n.ScheduledAt, &n.SentAt, &n.RetryCount, &n.MaxRetries, &n.ErrorMessage, &n.Version,
		&n.AttemptToken, &n.WorkerID, &n.ClaimedAt, &n.CancelRequested, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("notifier/postgres: parse notification id %q: %w", idStr, err)
	}
	n.ID = parsedID
	n.Channel = notification.Channel(channel)
	n.Priority = notification.Priority(priority)
	n.Status = notification.Status(status)

	if n.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}

	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	n.ScheduledAt = utc(n.ScheduledAt)
	n.SentAt = utc(n.SentAt)
	n.ClaimedAt = utc(n.ClaimedAt)
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*notification.Notification, error) {
	items := make([]*notification.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notifier/postgres: scan notification row: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifier/postgres: iterate notification rows: %w", err)
	}
	return items, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
