package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
)

// Create persists a new notification.
func (s *Store) Create(ctx context.Context, n *notification.Notification) error {
	if n.ID.IsNil() {
		n.ID = id.New()
	}
	if n.CreatedAt.IsZero() {
		n.Entity = notifier.NewEntity(time.Now())
	}
	n.Version = 1

	if _, err := s.collection().InsertOne(ctx, toModel(n)); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("notifier/mongo: notification %s already exists: %w", n.ID, err)
		}
		return fmt.Errorf("notifier/mongo: create notification: %w", err)
	}
	return nil
}

// Get retrieves a notification by ID.
func (s *Store) Get(ctx context.Context, nid id.ID) (*notification.Notification, error) {
	var m notificationModel
	err := s.collection().FindOne(ctx, bson.M{"_id": nid.ObjectID()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, notifier.ErrNotFound
		}
		return nil, fmt.Errorf("notifier/mongo: get notification: %w", err)
	}
	return fromModel(&m), nil
}

// List returns one page ordered by created_at descending.
func (s *Store) List(ctx context.Context, opts notification.ListOpts) ([]*notification.Notification, int64, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Channel != "" {
		filter["channel"] = string(opts.Channel)
	}

	total, err := s.collection().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("notifier/mongo: count notifications: %w", err)
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	})
	if opts.PageSize > 0 {
		findOpts.SetSkip(int64(opts.Offset())).SetLimit(int64(opts.PageSize))
	}

	cur, err := s.collection().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("notifier/mongo: list notifications: %w", err)
	}
	items, err := decodeAll(ctx, cur)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update applies p unconditionally.
func (s *Store) Update(ctx context.Context, nid id.ID, p notification.Patch) (*notification.Notification, error) {
	n, err := s.findAndPatch(ctx, bson.M{"_id": nid.ObjectID()}, p)
	if err != nil {
		if isNoDocuments(err) {
			return nil, notifier.ErrNotFound
		}
		return nil, fmt.Errorf("notifier/mongo: update notification: %w", err)
	}
	return n, nil
}

// Delete removes a notification.
func (s *Store) Delete(ctx context.Context, nid id.ID) error {
	res, err := s.collection().DeleteOne(ctx, bson.M{"_id": nid.ObjectID()})
	if err != nil {
		return fmt.Errorf("notifier/mongo: delete notification: %w", err)
	}
	if res.DeletedCount == 0 {
		return notifier.ErrNotFound
	}
	return nil
}

// CompareAndSwap applies p only if the stored version matches.
func (s *Store) CompareAndSwap(ctx context.Context, nid id.ID, expectedVersion int64, p notification.Patch) (*notification.Notification, error) {
	n, err := s.findAndPatch(ctx, bson.M{"_id": nid.ObjectID(), "version": expectedVersion}, p)
	if err == nil {
		return n, nil
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("notifier/mongo: compare and swap: %w", err)
	}

	count, err := s.collection().CountDocuments(ctx, bson.M{"_id": nid.ObjectID()})
	if err != nil {
		return nil, fmt.Errorf("notifier/mongo: compare and swap: %w", err)
	}
	if count == 0 {
		return nil, notifier.ErrNotFound
	}
	return nil, notifier.ErrConflict
}

// ListDue returns due pending/scheduled notifications in dispatch order.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*notification.Notification, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$match", Value: bson.M{
			"status": bson.M{"$in": []string{
				string(notification.StatusPending),
				string(notification.StatusScheduled),
			}},
			"$or": bson.A{
				bson.M{"scheduled_at": nil},
				bson.M{"scheduled_at": bson.M{"$lte": now.UTC()}},
			},
		}}},
		{{Key: "$addFields", Value: bson.M{
			"due_at": bson.M{"$ifNull": bson.A{"$scheduled_at", "$created_at"}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "priority_rank", Value: -1},
			{Key: "due_at", Value: 1},
			{Key: "_id", Value: 1},
		}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}

	cur, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("notifier/mongo: list due: %w", err)
	}
	return decodeAll(ctx, cur)
}

// ListStale returns in_flight notifications claimed before the given time.
func (s *Store) ListStale(ctx context.Context, before time.Time, limit int) ([]*notification.Notification, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "claimed_at", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cur, err := s.collection().Find(ctx, bson.M{
		"status":     string(notification.StatusInFlight),
		"claimed_at": bson.M{"$lt": before.UTC()},
	}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("notifier/mongo: list stale: %w", err)
	}
	return decodeAll(ctx, cur)
}

// CountByStatus returns the number of notifications per status.
func (s *Store) CountByStatus(ctx context.Context) (map[notification.Status]int64, error) {
	cur, err := s.collection().Aggregate(ctx, mongod.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("notifier/mongo: count by status: %w", err)
	}
	defer cur.Close(ctx)

	counts := make(map[notification.Status]int64)
	for cur.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("notifier/mongo: decode status count: %w", err)
		}
		counts[notification.Status(row.Status)] = row.Count
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("notifier/mongo: iterate status counts: %w", err)
	}
	return counts, nil
}

// findAndPatch applies p to the document matching filter and returns the
// updated document.
func (s *Store) findAndPatch(ctx context.Context, filter bson.M, p notification.Patch) (*notification.Notification, error) {
	var m notificationModel
	err := s.collection().FindOneAndUpdate(ctx, filter, patchUpdate(p),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return nil, err
	}
	return fromModel(&m), nil
}

// patchUpdate renders p as a $set of the changed fields plus a version
// increment.
func patchUpdate(p notification.Patch) bson.M {
	set := bson.M{}
	p.Visit(func(name string, value any) {
		switch name {
		case notification.FieldMetadata:
			meta := p.Metadata.Value
			if meta == nil {
				meta = map[string]any{}
			}
			set[name] = meta
		case notification.FieldPriority:
			set[name] = value
			set["priority_rank"] = p.Priority.Value.Rank()
		default:
			if t, ok := value.(*time.Time); ok {
				set[name] = utc(t)
				return
			}
			set[name] = value
		}
	})

	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	set["updated_at"] = updatedAt.UTC()

	return bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
}

func decodeAll(ctx context.Context, cur *mongod.Cursor) ([]*notification.Notification, error) {
	defer cur.Close(ctx)

	items := make([]*notification.Notification, 0)
	for cur.Next(ctx) {
		var m notificationModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("notifier/mongo: decode notification: %w", err)
		}
		items = append(items, fromModel(&m))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("notifier/mongo: iterate notifications: %w", err)
	}
	return items, nil
}
