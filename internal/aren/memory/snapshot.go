package memory

import (
	"context"
	"sync"
	"time"
)

// SnapshotStore archives sealed sessions so a returning user resumes where
// they left off.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns false when no snapshot exists for sessionID.
	Load(ctx context.Context, sessionID string) (Snapshot, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// DefaultSnapshotTTL is how long an archived session can be resumed.
const DefaultSnapshotTTL = 24 * time.Hour

type noopSnapshots struct{}

func (noopSnapshots) Save(context.Context, Snapshot) error { return nil }

func (noopSnapshots) Load(context.Context, string) (Snapshot, bool, error) {
	return Snapshot{}, false, nil
}

func (noopSnapshots) Delete(context.Context, string) error { return nil }

// MemorySnapshots is an in-process SnapshotStore with expiry. It suits a
// single instance; use RedisSnapshots when several instances share users.
type MemorySnapshots struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]memorySnapshot
}

type memorySnapshot struct {
	snap    Snapshot
	expires time.Time
}

// NewMemorySnapshots returns a store whose entries expire after ttl.
func NewMemorySnapshots(ttl time.Duration) *MemorySnapshots {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &MemorySnapshots{ttl: ttl, now: time.Now, items: make(map[string]memorySnapshot)}
}

// Save implements SnapshotStore.
func (m *MemorySnapshots) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[snap.SessionID] = memorySnapshot{snap: restore(snap).snapshot(), expires: m.now().Add(m.ttl)}
	return nil
}

// Load implements SnapshotStore. A loaded snapshot is removed: the session
// lives in the tracker again until it is next sealed.
func (m *MemorySnapshots) Load(_ context.Context, sessionID string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[sessionID]
	if !ok {
		return Snapshot{}, false, nil
	}
	delete(m.items, sessionID)
	if m.now().After(item.expires) {
		return Snapshot{}, false, nil
	}
	return item.snap, true, nil
}

// Delete implements SnapshotStore.
func (m *MemorySnapshots) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, sessionID)
	return nil
}
