package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisKeyPrefix namespaces every key the Redis store writes.
	DefaultRedisKeyPrefix = "fernly:"
	// DefaultDedupTTL bounds how long inbound message ids are remembered.
	DefaultDedupTTL = 48 * time.Hour
)

// RedisStore persists learning documents as JSON strings. Reads refresh the TTL,
// so only idle documents expire.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var (
	_ Persister = (*RedisStore)(nil)
	_ DedupRepo = (*RedisStore)(nil)
)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	cfg := Opts{KeyPrefix: DefaultRedisKeyPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address not set")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		slog.Error("Redis ping failed", "error", err, "addr", cfg.RedisAddr)
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Debug("RedisStore connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.TTL)
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) documentKey(owner string) string {
	return s.prefix + "learning:" + owner
}

// Load returns the owner's learning document, or nil if none is stored.
func (s *RedisStore) Load(ctx context.Context, owner string) (*models.LearningDocument, error) {
	key := s.documentKey(owner)
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore Load failed", "error", err, "owner", owner)
		return nil, fmt.Errorf("failed to load learning document for %s: %w", owner, err)
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}
	return decodeDocument(val)
}

// Save replaces the owner's learning document.
func (s *RedisStore) Save(ctx context.Context, owner string, doc *models.LearningDocument) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.documentKey(owner), data, s.ttl).Err(); err != nil {
		slog.Error("RedisStore Save failed", "error", err, "owner", owner)
		return fmt.Errorf("failed to save learning document for %s: %w", owner, err)
	}
	slog.Debug("RedisStore Save succeeded", "owner", owner, "bytes", len(data))
	return nil
}

// Delete removes the owner's learning document.
func (s *RedisStore) Delete(ctx context.Context, owner string) error {
	if err := s.client.Del(ctx, s.documentKey(owner)).Err(); err != nil {
		return fmt.Errorf("failed to delete learning document for %s: %w", owner, err)
	}
	return nil
}

// RecordInbound remembers a message id for DefaultDedupTTL.
func (s *RedisStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+"inbound:"+messageID, sender, DefaultDedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

// MarkProcessed is a no-op; the dedup key expiring is all Redis tracks.
func (s *RedisStore) MarkProcessed(context.Context, string) error {
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
