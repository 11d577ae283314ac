package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements Store using Redis, for deployments running more
// than one relay instance against the same backend. Expiry is delegated to
// Redis key TTLs, so Sweep is a no-op.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	onEvict EvictFunc
}

// NewRedisStore connects to Redis and returns a session store keyed under
// the given prefix.
func NewRedisStore(addr, password string, db int, prefix string, timeout time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	slog.Info("Connected to Redis session store", "address", addr)

	return &RedisStore{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
	}, nil
}

// key returns the Redis key for a conversation id
func (s *RedisStore) key(conversationID string) string {
	return s.prefix + conversationID
}

// OnEvict registers the eviction callback. Covers explicit deletes and
// handle-changing overwrites; keys dropped by Redis TTL expiry produce no
// notification.
func (s *RedisStore) OnEvict(fn EvictFunc) {
	s.onEvict = fn
}

// Get retrieves the entry for a conversation id. Expired keys have already
// been dropped by Redis.
func (s *RedisStore) Get(ctx context.Context, conversationID string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, s.key(conversationID)).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	} else if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get session for %s: %w", conversationID, err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to deserialize session for %s: %w", conversationID, err)
	}
	return entry, true, nil
}

// Put inserts or overwrites the entry, with the session timeout as key TTL.
// Overwriting with a different handle counts as an eviction of the old one.
func (s *RedisStore) Put(ctx context.Context, conversationID, handle string, now time.Time) error {
	old, existed, _ := s.Get(ctx, conversationID)

	entry := Entry{Handle: handle, LastTouch: now}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize session for %s: %w", conversationID, err)
	}

	if err := s.client.Set(ctx, s.key(conversationID), data, s.timeout).Err(); err != nil {
		return fmt.Errorf("failed to store session for %s: %w", conversationID, err)
	}

	if existed && old.Handle != handle && s.onEvict != nil {
		s.onEvict(conversationID, old.Handle)
	}

	slog.Debug("Stored session", "conversation_id", conversationID, "ttl", s.timeout)
	return nil
}

// Delete removes the entry for a conversation id.
func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	old, existed, _ := s.Get(ctx, conversationID)

	if err := s.client.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to remove session for %s: %w", conversationID, err)
	}

	if existed && s.onEvict != nil {
		s.onEvict(conversationID, old.Handle)
	}

	slog.Debug("Removed session", "conversation_id", conversationID)
	return nil
}

// Sweep is a no-op: Redis expires keys server-side.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
