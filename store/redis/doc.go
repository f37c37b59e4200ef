// Package redis implements notification.Store on Redis. Each record is a
// msgpack blob under its own key; sets and sorted sets index records by
// status, channel, creation time, due time and claim time.
//
// Mutations run under WATCH on the record key, so a compare-and-swap only
// commits when no other writer touched the record in between.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
