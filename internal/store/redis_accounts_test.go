package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to the local test database or skips.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisAccounts(t *testing.T) {
	client := setupTestRedis(t)
	prefix := fmt.Sprintf("test-%d-", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, REDIS_KEY_ACCOUNT_PREFIX+"{"+prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})

	runAccountsSuite(t, NewRedisAccounts(client), prefix)
}

func TestRedisKeysShareHashTag(t *testing.T) {
	if got, want := balanceKey("u1"), "account:{u1}:balance"; got != want {
		t.Errorf("balanceKey = %q, want %q", got, want)
	}
	if got, want := refKey("u1", "r:1"), "account:{u1}:ref:r:1"; got != want {
		t.Errorf("refKey = %q, want %q", got, want)
	}
}
