package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/drift/internal/config"
	"github.com/goodtune/drift/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "drift"

// Store implements the storage.Store interface using Redis. Values are JSON
// strings; the action log and history are lists so appends stay ordered.
type Store struct {
	client *redis.Client
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{client: s.client} }

// Quotas returns the QuotaStore implementation
func (s *Store) Quotas() storage.QuotaStore { return &quotaStore{client: s.client} }

// Dedup returns the DedupStore implementation
func (s *Store) Dedup() storage.DedupStore { return &dedupStore{client: s.client} }

// Logs returns the LogStore implementation
func (s *Store) Logs() storage.LogStore { return &logStore{client: s.client} }

// History returns the HistoryStore implementation
func (s *Store) History() storage.HistoryStore { return &historyStore{client: s.client} }

func sessionKey(id string) string { return fmt.Sprintf("%s:session:%s", keyPrefix, id) }

func quotaKey(kind storage.ActionKind, dayKey string) string {
	return fmt.Sprintf("%s:quota:%s:%s", keyPrefix, dayKey, kind)
}

func dedupKey(kind storage.ActionKind) string {
	return fmt.Sprintf("%s:dedup:%s", keyPrefix, kind)
}

func logKey(sessionID string) string { return fmt.Sprintf("%s:log:%s", keyPrefix, sessionID) }

func historyKey() string { return fmt.Sprintf("%s:history", keyPrefix) }

func getJSON[T any](ctx context.Context, client *redis.Client, key string) (*T, error) {
	data, err := client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &value, nil
}

func setJSON(ctx context.Context, client *redis.Client, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return client.Set(ctx, key, data, 0).Err()
}
