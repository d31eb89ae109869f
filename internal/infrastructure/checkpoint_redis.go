package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/fetchq-go/internal/domain"
)

// RedisCheckpointBackend stores checkpoint records as redis strings with a TTL
type RedisCheckpointBackend struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// RedisCheckpointConfig contains redis connection settings
type RedisCheckpointConfig struct {
	Address   string
	Password  string
	DB        int
	Namespace string
	// TTL expires records that are never resumed, zero keeps them
	TTL time.Duration
}

// NewRedisCheckpointBackend connects to redis and verifies the connection
func NewRedisCheckpointBackend(cfg RedisCheckpointConfig) (*RedisCheckpointBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "fetchq"
	}
	return &RedisCheckpointBackend{client: client, namespace: namespace, ttl: cfg.TTL}, nil
}

func (r *RedisCheckpointBackend) redisKey(key string) string {
	return fmt.Sprintf("%s:checkpoint:%s", r.namespace, key)
}

// Put writes a record, replacing an existing one
func (r *RedisCheckpointBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, r.redisKey(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Get reads a record
func (r *RedisCheckpointBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes a record
func (r *RedisCheckpointBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys of all checkpoint records
func (r *RedisCheckpointBackend) Keys(ctx context.Context) ([]string, error) {
	prefix := r.redisKey("")
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+checkpointPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return keys, nil
}

// Close closes the redis client
func (r *RedisCheckpointBackend) Close() error {
	return r.client.Close()
}
