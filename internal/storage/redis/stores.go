package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/drift/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

func (s *sessionStore) Get(ctx context.Context, sessionID string) (*storage.SessionState, error) {
	return getJSON[storage.SessionState](ctx, s.client, sessionKey(sessionID))
}

func (s *sessionStore) Save(ctx context.Context, state storage.SessionState) error {
	return setJSON(ctx, s.client, sessionKey(state.SessionID), state)
}

func (s *sessionStore) Delete(ctx context.Context, sessionID string) error {
	deleted, err := s.client.Del(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type quotaStore struct {
	client *redis.Client
}

func (s *quotaStore) Get(ctx context.Context, kind storage.ActionKind, dayKey string) (*storage.QuotaRecord, error) {
	return getJSON[storage.QuotaRecord](ctx, s.client, quotaKey(kind, dayKey))
}

func (s *quotaStore) Save(ctx context.Context, record storage.QuotaRecord) error {
	return setJSON(ctx, s.client, quotaKey(record.Kind, record.DayKey), record)
}

func (s *quotaStore) DeleteBefore(ctx context.Context, cutoffDayKey string) (int, error) {
	cutoff, err := time.Parse("2006-01-02", cutoffDayKey)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	deleted := 0
	pattern := fmt.Sprintf("%s:quota:*", keyPrefix)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		record, err := getJSON[storage.QuotaRecord](ctx, s.client, key)
		if err != nil {
			continue
		}
		dayValue, err := time.Parse("2006-01-02", record.DayKey)
		if err != nil {
			continue
		}
		if dayValue.Before(cutoff) {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, iter.Err()
}

type dedupStore struct {
	client *redis.Client
}

func (s *dedupStore) Get(ctx context.Context, kind storage.ActionKind) (*storage.DedupSet, error) {
	return getJSON[storage.DedupSet](ctx, s.client, dedupKey(kind))
}

func (s *dedupStore) Save(ctx context.Context, set storage.DedupSet) error {
	return setJSON(ctx, s.client, dedupKey(set.Kind), set)
}

type logStore struct {
	client *redis.Client
}

func (s *logStore) Append(ctx context.Context, entry storage.ActionLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("%s/%020d", entry.SessionID, entry.Timestamp.UnixNano())
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	return s.client.RPush(ctx, logKey(entry.SessionID), data).Err()
}

func (s *logStore) List(ctx context.Context, sessionID string) ([]storage.ActionLogEntry, error) {
	raw, err := s.client.LRange(ctx, logKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]storage.ActionLogEntry, 0, len(raw))
	for _, item := range raw {
		var entry storage.ActionLogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *logStore) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	length, err := s.client.LLen(ctx, logKey(sessionID)).Result()
	if err != nil {
		return 0, err
	}
	if err := s.client.Del(ctx, logKey(sessionID)).Err(); err != nil {
		return 0, err
	}
	return int(length), nil
}

type historyStore struct {
	client *redis.Client
}

func (s *historyStore) Append(ctx context.Context, record storage.HistoryRecord, maxRecords int) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	if err := s.client.RPush(ctx, historyKey(), data).Err(); err != nil {
		return err
	}
	if maxRecords > 0 {
		return s.client.LTrim(ctx, historyKey(), int64(-maxRecords), -1).Err()
	}
	return nil
}

func (s *historyStore) Latest(ctx context.Context) (*storage.HistoryRecord, error) {
	data, err := s.client.LIndex(ctx, historyKey(), -1).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var record storage.HistoryRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("unmarshal history record: %w", err)
	}
	return &record, nil
}

func (s *historyStore) List(ctx context.Context) ([]storage.HistoryRecord, error) {
	raw, err := s.client.LRange(ctx, historyKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	records := make([]storage.HistoryRecord, 0, len(raw))
	for _, item := range raw {
		var record storage.HistoryRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, fmt.Errorf("unmarshal history record: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}
