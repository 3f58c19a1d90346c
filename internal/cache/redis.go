package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/models"
)

const DefaultRedisPrefix = "jeju:cache:"

// RedisClient is the subset of *redis.Client the store needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore shares cache records between server processes. Keys expire
// natively after their TTL; freshness is re-checked on read.
type RedisStore struct {
	client RedisClient
	prefix string
	now    func() time.Time
	logger logger.Logger
}

func NewRedisStore(client RedisClient, prefix string, now func() time.Time, log logger.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    clockOrDefault(now),
		logger: log,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (models.CacheEntry, bool) {
	data, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.warn(fingerprint, err)
		}
		return models.CacheEntry{}, false
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.warn(fingerprint, err)
		return models.CacheEntry{}, false
	}
	if !entry.Valid(s.now()) {
		return models.CacheEntry{}, false
	}
	return entry, true
}

func (s *RedisStore) Put(ctx context.Context, fingerprint string, payload json.RawMessage, ttl time.Duration) error {
	data, err := json.Marshal(models.CacheEntry{
		Fingerprint: fingerprint,
		Payload:     payload,
		StoredAt:    s.now(),
		TTL:         ttl,
	})
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}

	if err := s.client.Set(ctx, s.key(fingerprint), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, s.key(fingerprint)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires keys itself.
func (s *RedisStore) Sweep(_ context.Context) (int, error) {
	return 0, nil
}

func (s *RedisStore) key(fingerprint string) string {
	return s.prefix + fingerprint
}

func (s *RedisStore) warn(fingerprint string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logger.Fields{
		"fingerprint": fingerprint,
		"error":       err.Error(),
	}).Warn("Redis cache read failed, treating as miss")
}
