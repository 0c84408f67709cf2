package memory

// Integration test against a real Redis. Skipped unless AREN_TEST_REDIS_ADDR
// is set, so it never blocks the regular test run:
//
//	AREN_TEST_REDIS_ADDR=localhost:6379 go test -run TestRedisSnapshots ./internal/aren/memory/

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisSnapshots_RoundTrip(t *testing.T) {
	addr := os.Getenv("AREN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AREN_TEST_REDIS_ADDR not set; skipping Redis integration test")
	}
	ctx := context.Background()
	store := NewRedisSnapshots(redis.NewClient(&redis.Options{Addr: addr}), time.Minute)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	id := "test|" + time.Now().Format(time.RFC3339Nano)
	snap := Snapshot{
		SessionID: id,
		UserID:    "test",
		Turns:     []TurnRecord{{Index: 0, Skill: "weather", Slots: map[string]string{"location": "Mumbai"}}},
		Prefs:     map[string]string{"city": "Pune"},
		NextIndex: 1,
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Load(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Turns[0].Slots["location"] != "Mumbai" || got.Prefs["city"] != "Pune" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if _, ok, _ := store.Load(ctx, id); ok {
		t.Fatal("Load should consume the snapshot")
	}
}
