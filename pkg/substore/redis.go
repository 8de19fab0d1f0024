package substore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the store's keys; defaults to "agentflow:sub:".
	KeyPrefix string
	// RecordTTL bounds how long a record lives without being re-saved.
	// Zero means no expiry.
	RecordTTL time.Duration
}

// RedisStore persists subscription records in Redis, one JSON value per topic.
type RedisStore struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewRedisStore creates and connects a RedisStore. It pings the Redis server
// to ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentflow:sub:"
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStore{
		redisClient: rdb,
		keyPrefix:   prefix,
		ttl:         cfg.RecordTTL,
		logger:      logger.With().Str("component", "RedisSubStore").Logger(),
	}, nil
}

// Save stores the record under its topic key.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record for topic %s: %w", rec.Topic, err)
	}

	key := s.keyPrefix + rec.Topic
	if err := s.redisClient.Set(ctx, key, jsonData, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to set record in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	s.logger.Debug().Str("key", key).Msg("Subscription record stored in Redis.")
	return nil
}

// Fetch retrieves the record for a topic.
func (s *RedisStore) Fetch(ctx context.Context, topic string) (Record, error) {
	key := s.keyPrefix + topic
	cachedData, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrRecordNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during fetch.")
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(cachedData), &rec); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal stored record.")
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// Delete removes the record for a topic. Deleting an absent record is not an
// error.
func (s *RedisStore) Delete(ctx context.Context, topic string) error {
	key := s.keyPrefix + topic
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to delete record from Redis.")
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
