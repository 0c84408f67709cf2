package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// snapshotKeyPrefix namespaces archived sessions in Redis.
const snapshotKeyPrefix = "aren:session:"

// RedisSnapshots is a SnapshotStore backed by Redis, so that sealed
// sessions survive restarts and can be resumed by any instance.
type RedisSnapshots struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSnapshots creates a Redis-backed snapshot store.
func NewRedisSnapshots(client redis.UniversalClient, ttl time.Duration) *RedisSnapshots {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisSnapshots{client: client, ttl: ttl}
}

// Save implements SnapshotStore.
func (r *RedisSnapshots) Save(ctx context.Context, snap Snapshot) error {
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key(snap.SessionID), val, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load implements SnapshotStore. The key is removed atomically with the
// read so two instances cannot both resume the same session.
func (r *RedisSnapshots) Load(ctx context.Context, sessionID string) (Snapshot, bool, error) {
	val, err := r.client.GetDel(ctx, r.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis getdel: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Delete implements SnapshotStore.
func (r *RedisSnapshots) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}

// Ping checks connectivity.
func (r *RedisSnapshots) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisSnapshots) Close() error {
	return r.client.Close()
}

func (r *RedisSnapshots) key(sessionID string) string {
	return snapshotKeyPrefix + sessionID
}
