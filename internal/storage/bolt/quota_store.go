package bolt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/drift/internal/storage"
	"go.etcd.io/bbolt"
)

type quotaStore struct {
	db *bbolt.DB
}

func (s *quotaStore) Get(ctx context.Context, kind storage.ActionKind, dayKey string) (*storage.QuotaRecord, error) {
	return getBucketValue[storage.QuotaRecord](ctx, s.db, bucketQuotaDaily, quotaKey(kind, dayKey))
}

func (s *quotaStore) Save(ctx context.Context, record storage.QuotaRecord) error {
	return putBucketValue(ctx, s.db, bucketQuotaDaily, quotaKey(record.Kind, record.DayKey), record)
}

func (s *quotaStore) DeleteBefore(ctx context.Context, cutoffDayKey string) (int, error) {
	cutoff, err := time.Parse("2006-01-02", cutoffDayKey)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketQuotaDaily))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var record storage.QuotaRecord
			if err := unmarshal(v, &record); err != nil {
				return err
			}
			dayValue, err := time.Parse("2006-01-02", record.DayKey)
			if err != nil {
				continue
			}
			if dayValue.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}

func quotaKey(kind storage.ActionKind, dayKey string) string {
	return strings.Join([]string{dayKey, string(kind)}, "/")
}
