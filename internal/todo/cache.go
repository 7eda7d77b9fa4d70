package todo

import (
	"context"
	"encoding/json"
	"fmt"
)

// Cache keys. The remote-synced repositories and the local-only repositories
// keep separate entries so switching backends never mixes their state.
const (
	TasksCacheKey        = "cache:firestore:tasks"
	CategoriesCacheKey   = "cache:firestore:categories"
	RemoteConfigCacheKey = "remote-config:last-snapshot"
	LocalTasksKey        = "tasks"
	LocalCategoriesKey   = "categories"
)

// Cache is durable key/value storage on the local device.
// Values are overwritten whole; there are no partial updates or transactions.
// Implementations bootstrap their storage lazily on first use and must be
// safe for concurrent use.
type Cache interface {
	// Get returns the stored value, or nil, nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases the underlying storage.
	Close() error
}

// CacheGet decodes the JSON value stored under key, returning fallback when
// the key is absent or holds null.
func CacheGet[T any](ctx context.Context, c Cache, key string, fallback T) (T, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return fallback, fmt.Errorf("reading cache key %s: %w", key, err)
	}
	if data == nil || string(data) == "null" {
		return fallback, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fallback, fmt.Errorf("decoding cache key %s: %w", key, err)
	}
	return v, nil
}

// CacheSet encodes value as JSON and stores it under key.
func CacheSet[T any](ctx context.Context, c Cache, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache key %s: %w", key, err)
	}
	if err := c.Set(ctx, key, data); err != nil {
		return fmt.Errorf("writing cache key %s: %w", key, err)
	}
	return nil
}
