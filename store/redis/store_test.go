package redis_test

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/notifier/id"
	"github.com/xraph/notifier/notification"
	redisstore "github.com/xraph/notifier/store/redis"
	"github.com/xraph/notifier/store/storetest"
)

// Set NOTIFIER_TEST_REDIS_URL (redis://host:6379/15) to run the suite.
// Each subtest writes under its own key prefix and removes it afterwards.
func TestStore(t *testing.T) {
	url := os.Getenv("NOTIFIER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NOTIFIER_TEST_REDIS_URL not set")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	storetest.Run(t, func(t *testing.T) notification.Store {
		prefix := "notifier_test:" + id.New().String() + ":"
		t.Cleanup(func() {
			ctx := context.Background()
			iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		})
		return redisstore.New(client, redisstore.WithKeyPrefix(prefix))
	})
}
