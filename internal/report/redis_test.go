package report

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
}

func isRedisAvailable() bool {
	client := newTestRedisClient()
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}

func TestRedisStorePutGetList(t *testing.T) {
	if !isRedisAvailable() {
		t.Skip("redis not available, skipping")
	}
	client := newTestRedisClient()
	defer client.Close()
	defer client.FlushDB(context.Background())

	s, err := NewRedisStore(RedisStoreConfig{Client: client, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}

	ctx := context.Background()
	r := newReport(t, 5000)
	if err := s.Put(ctx, r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, r.FlowID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PPS != r.PPS {
		t.Fatalf("PPS = %d, want %d", got.PPS, r.PPS)
	}

	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].FlowID != r.FlowID {
		t.Fatalf("List = %v, want single entry for %s", list, r.FlowID)
	}
}
