package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when Redis was not configured or is unreachable
var ErrUnavailable = errors.New("redis client not initialized")

// RedisClient wraps redis.Client with JSON values and a key namespace
type RedisClient struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects to Redis. It returns nil when the server cannot be
// reached so callers run without a cache.
func NewRedisClient(host, port, password string, db int, prefix string) *RedisClient {
	addr := fmt.Sprintf("%s:%s", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  Failed to connect to Redis at %s: %v", addr, err)
		_ = client.Close()
		return nil
	}

	log.Printf("✅ Connected to Redis at %s", addr)
	return &RedisClient{client: client, prefix: prefix}
}

func (r *RedisClient) ready() bool {
	return r != nil && r.client != nil
}

func (r *RedisClient) key(k string) string {
	return r.prefix + k
}

// Set stores a JSON-encoded value with expiration
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !r.ready() {
		return ErrUnavailable
	}

	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), jsonBytes, expiration).Err()
}

// SetNX stores a value only if the key is absent and reports whether it was stored
func (r *RedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if !r.ready() {
		return false, ErrUnavailable
	}

	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return r.client.SetNX(ctx, r.key(key), jsonBytes, expiration).Result()
}

// Get decodes a JSON value into dest. A missing key returns redis.Nil.
func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	if !r.ready() {
		return ErrUnavailable
	}

	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// Delete removes a key
func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if !r.ready() {
		return ErrUnavailable
	}
	return r.client.Del(ctx, r.key(key)).Err()
}

// Exists checks if a key exists
func (r *RedisClient) Exists(ctx context.Context, key string) bool {
	if !r.ready() {
		return false
	}

	result, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false
	}
	return result > 0
}

// Publish sends a JSON message to a channel. Channels are not namespaced.
func (r *RedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if !r.ready() {
		return ErrUnavailable
	}

	jsonBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, jsonBytes).Err()
}

// Ping checks connectivity
func (r *RedisClient) Ping(ctx context.Context) error {
	if !r.ready() {
		return ErrUnavailable
	}
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r.ready() {
		return r.client.Close()
	}
	return nil
}

// IsMiss reports whether err means the key was absent
func IsMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
