package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goodtune/drift/internal/storage"
	"go.etcd.io/bbolt"
)

type logStore struct {
	db *bbolt.DB
}

func (s *logStore) Append(ctx context.Context, entry storage.ActionLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ID == "" {
		key, err := timestampKey(entry.SessionID, entry.Timestamp)
		if err != nil {
			return err
		}
		entry.ID = key
	}
	data, err := marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketActionLogs))
		if bucket == nil {
			return fmt.Errorf("action log bucket missing")
		}
		return bucket.Put([]byte(entry.ID), data)
	})
}

func (s *logStore) List(ctx context.Context, sessionID string) ([]storage.ActionLogEntry, error) {
	entries := make([]storage.ActionLogEntry, 0)
	prefix := []byte(sessionID + "/")
	return entries, s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketActionLogs))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var entry storage.ActionLogEntry
			if err := unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
}

func (s *logStore) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	deleted := 0
	prefix := []byte(sessionID + "/")
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketActionLogs))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
}
