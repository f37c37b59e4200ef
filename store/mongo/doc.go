// Package mongo implements notification.Store on the official MongoDB Go
// driver. Compare-and-swap writes are a FindOneAndUpdate filtered on
// {_id, version}, so the check and the write are one server-side operation.
//
//	s, err := mongo.Open(ctx, "mongodb://localhost:27017", "notifier")
//	if err != nil { ... }
//	defer s.Close()
//	_ = s.Migrate(ctx)
package mongo
