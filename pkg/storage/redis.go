// Package storage provides forecast run store implementations: an
// in-process map for single-instance deployments and a redis backend for
// sharing runs across replicas.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/riverinsight/riverd/pkg/meander"
)

const redisKeyPrefix = "riverinsight:run:"

// RedisRunStore implements the run store on redis, enabling multi-instance
// deployments to share computed runs. Write-once semantics are enforced
// with SET NX so two replicas can never both win a write for the same key.
type RedisRunStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRunStore connects to redis and verifies the connection.
//
// ttl bounds how long a run stays cached; 0 means no expiration, matching
// the process-lifetime contract of the memory store.
func NewRedisRunStore(addr, password string, db int, ttl time.Duration) (*RedisRunStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisRunStore{client: client, ttl: ttl}, nil
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("run key required")
	}
	for _, c := range key {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid run key %q: only alphanumeric, hyphens, and underscores allowed", key)
		}
	}
	return nil
}

// Get retrieves the run stored under key, or meander.ErrRunNotFound.
func (r *RedisRunStore) Get(ctx context.Context, key string) (*meander.ForecastRun, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, meander.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run from redis: %w", err)
	}

	var run meander.ForecastRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// PutOnce stores a run under key with SET NX. An existing run for the key
// fails the write with meander.ErrCacheOverwrite.
func (r *RedisRunStore) PutOnce(ctx context.Context, key string, run *meander.ForecastRun) error {
	if err := validateKey(key); err != nil {
		return err
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	ok, err := r.client.SetNX(ctx, redisKeyPrefix+key, data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store run in redis: %w", err)
	}
	if !ok {
		return meander.ErrCacheOverwrite
	}
	return nil
}

// Delete removes the run under key. Deleting a missing key is not an error.
func (r *RedisRunStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete run from redis: %w", err)
	}
	return nil
}

// Clear removes every run under the store's key prefix.
func (r *RedisRunStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan run keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete run keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping verifies the redis connection is alive.
func (r *RedisRunStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying redis connection pool.
func (r *RedisRunStore) Close() error {
	return r.client.Close()
}
