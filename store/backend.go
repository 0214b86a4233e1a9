package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackendUnavailable indicates the underlying key-value backend is
// unreachable. It wraps transport-level failures; parse and expiry handling
// never produce it.
var ErrBackendUnavailable = errors.New("store backend unavailable")

// Backend is the raw key-value substrate under the [Store]. Implementations
// must treat a missing key as (value "", found false, nil error), not as an
// error.
type Backend interface {
	Get(ctx context.Context, rawKey string) (string, bool, error)
	Set(ctx context.Context, rawKey, value string, ttl time.Duration) error
	Remove(ctx context.Context, rawKey string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

const listScanBatch = 256

// RedisBackend is a [Backend] over a go-redis client. A zero TTL stores the
// value without backend-side expiry.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps an initialized Redis client. The caller retains
// ownership of the client and is responsible for closing it.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get reads a raw value. A missing key is reported as found=false with no
// error.
func (b *RedisBackend) Get(ctx context.Context, rawKey string) (string, bool, error) {
	val, err := b.client.Get(ctx, rawKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return val, true, nil
}

// Set writes a raw value with an optional TTL.
func (b *RedisBackend) Set(ctx context.Context, rawKey, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := b.client.Set(ctx, rawKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Remove deletes a key. Removing an absent key is not an error.
func (b *RedisBackend) Remove(ctx context.Context, rawKey string) error {
	if err := b.client.Del(ctx, rawKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// ListKeys returns all keys with the given prefix using SCAN, never KEYS,
// so it stays safe against production datasets.
func (b *RedisBackend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, prefix+"*", listScanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return keys, nil
}
