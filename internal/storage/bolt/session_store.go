package bolt

import (
	"context"

	"github.com/goodtune/drift/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) Get(ctx context.Context, sessionID string) (*storage.SessionState, error) {
	return getBucketValue[storage.SessionState](ctx, s.db, bucketSessions, sessionID)
}

func (s *sessionStore) Save(ctx context.Context, state storage.SessionState) error {
	return putBucketValue(ctx, s.db, bucketSessions, state.SessionID, state)
}

func (s *sessionStore) Delete(ctx context.Context, sessionID string) error {
	return deleteBucketValue(ctx, s.db, bucketSessions, sessionID)
}
