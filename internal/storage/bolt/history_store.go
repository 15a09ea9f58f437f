package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/drift/internal/storage"
	"go.etcd.io/bbolt"
)

type historyStore struct {
	db *bbolt.DB
}

func (s *historyStore) Append(ctx context.Context, record storage.HistoryRecord, maxRecords int) error {
	key, err := timestampKey("session", record.EndedAt)
	if err != nil {
		return err
	}
	data, err := marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketHistory))
		if bucket == nil {
			return fmt.Errorf("history bucket missing")
		}
		if err := bucket.Put([]byte(key), data); err != nil {
			return err
		}
		if maxRecords <= 0 {
			return nil
		}
		count := 0
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		// Keys are timestamp-ordered, so trimming from the front evicts the
		// oldest summaries first.
		excess := count - maxRecords
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
}

func (s *historyStore) Latest(ctx context.Context) (*storage.HistoryRecord, error) {
	var latest *storage.HistoryRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketHistory))
		if bucket == nil {
			return storage.ErrNotFound
		}
		k, v := bucket.Cursor().Last()
		if k == nil {
			return storage.ErrNotFound
		}
		var record storage.HistoryRecord
		if err := unmarshal(v, &record); err != nil {
			return err
		}
		latest = &record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

func (s *historyStore) List(ctx context.Context) ([]storage.HistoryRecord, error) {
	records := make([]storage.HistoryRecord, 0)
	return records, s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketHistory))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var record storage.HistoryRecord
			if err := unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
}
