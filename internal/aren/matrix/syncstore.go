package matrix

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// SyncStateStore persists key/value sync state per account. *store.Store
// implements it.
type SyncStateStore interface {
	SaveSyncValue(ctx context.Context, userID, key, value string) error
	LoadSyncValue(ctx context.Context, userID, key string) (string, error)
}

var _ mautrix.SyncStore = (*syncStore)(nil)

// syncStore keeps the filter ID and next_batch token, so a restarted bot
// resumes where it stopped instead of answering old messages.
type syncStore struct {
	state SyncStateStore
}

func newSyncStore(state SyncStateStore) *syncStore {
	return &syncStore{state: state}
}

func (s *syncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.state.SaveSyncValue(ctx, userID.String(), "filter_id", filterID)
}

func (s *syncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.LoadSyncValue(ctx, userID.String(), "filter_id")
}

func (s *syncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.state.SaveSyncValue(ctx, userID.String(), "next_batch", nextBatchToken)
}

func (s *syncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.LoadSyncValue(ctx, userID.String(), "next_batch")
}
