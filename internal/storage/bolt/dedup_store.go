package bolt

import (
	"context"

	"github.com/goodtune/drift/internal/storage"
	"go.etcd.io/bbolt"
)

type dedupStore struct {
	db *bbolt.DB
}

func (s *dedupStore) Get(ctx context.Context, kind storage.ActionKind) (*storage.DedupSet, error) {
	return getBucketValue[storage.DedupSet](ctx, s.db, bucketDedupSets, string(kind))
}

func (s *dedupStore) Save(ctx context.Context, set storage.DedupSet) error {
	return putBucketValue(ctx, s.db, bucketDedupSets, string(set.Kind), set)
}
