package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// errAlreadyExists is returned by Create for a duplicate ID.
var errAlreadyExists = errors.New("notifier/redis: notification already exists")

// Create stores the record and adds it to every index.
func (s *Store) Create(ctx context.Context, n *notification.Notification) error {
	if n.ID.IsNil() {
		n.ID = id.New()
	}
	if n.CreatedAt.IsZero() {
		n.Entity = notifier.NewEntity(time.Now())
	}
	n.Version = 1

	data, err := encode(n)
	if err != nil {
		return err
	}

	key := s.keys.notification(n.ID.String())
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return errAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.keys.created(), goredis.Z{Score: score(n.CreatedAt), Member: n.ID.String()})
			pipe.SAdd(ctx, s.keys.channel(string(n.Channel)), n.ID.String())
			s.index(ctx, pipe, nil, n)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("notifier/redis: create notification: %w", err)
	}
	return nil
}

// Get retrieves a notification by ID.
func (s *Store) Get(ctx context.Context, nid id.ID) (*notification.Notification, error) {
	data, err := s.client.Get(ctx, s.keys.notification(nid.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, notifier.ErrNotFound
		}
		return nil, fmt.Errorf("notifier/redis: get notification: %w", err)
	}
	return decode(data)
}

// List returns one page ordered by created_at descending.
func (s *Store) List(ctx context.Context, opts notification.ListOpts) ([]*notification.Notification, int64, error) {
	ids, err := s.client.ZRevRange(ctx, s.keys.created(), 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("notifier/redis: list ids: %w", err)
	}

	if opts.Status != "" {
		if ids, err = s.intersect(ctx, ids, s.keys.status(string(opts.Status))); err != nil {
			return nil, 0, err
		}
	}
	if opts.Channel != "" {
		if ids, err = s.intersect(ctx, ids, s.keys.channel(string(opts.Channel))); err != nil {
			return nil, 0, err
		}
	}

	total := int64(len(ids))
	start := min(opts.Offset(), len(ids))
	end := len(ids)
	if opts.PageSize > 0 {
		end = min(start+opts.PageSize, len(ids))
	}

	items, err := s.load(ctx, ids[start:end])
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update applies p unconditionally.
func (s *Store) Update(ctx context.Context, nid id.ID, p notification.Patch) (*notification.Notification, error) {
	n, err := s.mutate(ctx, nid, nil, p)
	if err != nil && !errors.Is(err, notifier.ErrNotFound) {
		return nil, fmt.Errorf("notifier/redis: update notification: %w", err)
	}
	return n, err
}

// Delete removes a notification and its index entries.
func (s *Store) Delete(ctx context.Context, nid id.ID) error {
	key := s.keys.notification(nid.String())

	for range maxTxAttempts {
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, goredis.Nil) {
					return notifier.ErrNotFound
				}
				return err
			}
			n, err := decode(data)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, s.keys.created(), n.ID.String())
				pipe.SRem(ctx, s.keys.channel(string(n.Channel)), n.ID.String())
				pipe.SRem(ctx, s.keys.status(string(n.Status)), n.ID.String())
				pipe.ZRem(ctx, s.keys.due(), n.ID.String())
				pipe.ZRem(ctx, s.keys.inFlight(), n.ID.String())
				return nil
			})
			return err
		}, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, notifier.ErrNotFound):
			return err
		default:
			return fmt.Errorf("notifier/redis: delete notification: %w", err)
		}
	}
	return fmt.Errorf("notifier/redis: delete notification: %w", goredis.TxFailedErr)
}

// CompareAndSwap applies p only if the stored version matches. The record
// key is watched between the version check and the write.
func (s *Store) CompareAndSwap(ctx context.Context, nid id.ID, expectedVersion int64, p notification.Patch) (*notification.Notification, error) {
	n, err := s.mutate(ctx, nid, &expectedVersion, p)
	if err != nil && !errors.Is(err, notifier.ErrNotFound) && !errors.Is(err, notifier.ErrConflict) {
		return nil, fmt.Errorf("notifier/redis: compare and swap: %w", err)
	}
	return n, err
}

// ListDue returns due pending/scheduled notifications in dispatch order.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*notification.Notification, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.due(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(score(now), 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("notifier/redis: list due ids: %w", err)
	}

	items, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	items = slices.DeleteFunc(items, func(n *notification.Notification) bool {
		return !n.Eligible(now)
	})
	slices.SortFunc(items, notification.CompareDue)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ListStale returns in_flight notifications claimed before the given time.
func (s *Store) ListStale(ctx context.Context, before time.Time, limit int) ([]*notification.Notification, error) {
	by := &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatFloat(score(before), 'f', -1, 64),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.keys.inFlight(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("notifier/redis: list stale ids: %w", err)
	}

	items, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(items, func(n *notification.Notification) bool {
		return n.Status != notification.StatusInFlight
	}), nil
}

// CountByStatus returns the number of notifications per status.
func (s *Store) CountByStatus(ctx context.Context) (map[notification.Status]int64, error) {
	cmds := make(map[notification.Status]*goredis.IntCmd, len(notification.Statuses))
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, st := range notification.Statuses {
			cmds[st] = pipe.SCard(ctx, s.keys.status(string(st)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notifier/redis: count by status: %w", err)
	}

	counts := make(map[notification.Status]int64)
	for st, cmd := range cmds {
		if c := cmd.Val(); c > 0 {
			counts[st] = c
		}
	}
	return counts, nil
}

// mutate reads the record under WATCH, applies p and writes it back with
// its index changes. With expectedVersion set, a version mismatch is
// ErrConflict. Aborted transactions are retried.
func (s *Store) mutate(ctx context.Context, nid id.ID, expectedVersion *int64, p notification.Patch) (*notification.Notification, error) {
	key := s.keys.notification(nid.String())

	for range maxTxAttempts {
		var updated *notification.Notification
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, goredis.Nil) {
					return notifier.ErrNotFound
				}
				return err
			}
			old, err := decode(data)
			if err != nil {
				return err
			}
			if expectedVersion != nil && old.Version != *expectedVersion {
				return notifier.ErrConflict
			}

			n := old.Clone()
			p.Apply(n, time.Now())
			out, err := encode(n)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				s.index(ctx, pipe, old, n)
				return nil
			})
			if err == nil {
				updated = n
			}
			return err
		}, key)

		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, goredis.TxFailedErr
}

// index moves n between the status, due and in-flight indexes. old is nil
// for a new record.
func (s *Store) index(ctx context.Context, pipe goredis.Pipeliner, old, n *notification.Notification) {
	member := n.ID.String()
	if old != nil && old.Status != n.Status {
		pipe.SRem(ctx, s.keys.status(string(old.Status)), member)
	}
	pipe.SAdd(ctx, s.keys.status(string(n.Status)), member)

	if n.Status.IsQueued() {
		pipe.ZAdd(ctx, s.keys.due(), goredis.Z{Score: score(n.DueAt()), Member: member})
	} else {
		pipe.ZRem(ctx, s.keys.due(), member)
	}

	if n.Status == notification.StatusInFlight && n.ClaimedAt != nil {
		pipe.ZAdd(ctx, s.keys.inFlight(), goredis.Z{Score: score(*n.ClaimedAt), Member: member})
	} else {
		pipe.ZRem(ctx, s.keys.inFlight(), member)
	}
}

// load fetches records in the order of ids, skipping any deleted since
// the ids were read.
func (s *Store) load(ctx context.Context, ids []string) ([]*notification.Notification, error) {
	items := make([]*notification.Notification, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	ks := make([]string, len(ids))
	for i, nid := range ids {
		ks[i] = s.keys.notification(nid)
	}
	vals, err := s.client.MGet(ctx, ks...).Result()
	if err != nil {
		return nil, fmt.Errorf("notifier/redis: load notifications: %w", err)
	}

	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, nil
}

// intersect keeps the ids that are members of set, preserving order.
func (s *Store) intersect(ctx context.Context, ids []string, set string) ([]string, error) {
	members, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("notifier/redis: read index %s: %w", set, err)
	}
	in := make(map[string]struct{}, len(members))
	for _, m := range members {
		in[m] = struct{}{}
	}
	return slices.DeleteFunc(ids, func(nid string) bool {
		_, ok := in[nid]
		return !ok
	}), nil
}

// score maps a timestamp onto a sorted set score in microseconds.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}
