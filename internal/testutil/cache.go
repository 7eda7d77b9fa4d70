package testutil

import (
	"context"
	"sync"
	"testing"

	"todo-go/internal/cache"
	"todo-go/internal/todo"
)

// NewTestCache creates an in-memory cache that is closed when the test completes.
func NewTestCache(t *testing.T) todo.Cache {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	return c
}

// FlakyCache wraps a Cache and fails Set calls while a failure is armed.
type FlakyCache struct {
	todo.Cache

	mu      sync.Mutex
	failSet error
}

func NewFlakyCache(c todo.Cache) *FlakyCache {
	return &FlakyCache{Cache: c}
}

// FailSet makes every later Set return err. A nil err clears the failure.
func (c *FlakyCache) FailSet(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSet = err
}

func (c *FlakyCache) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	err := c.failSet
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Cache.Set(ctx, key, value)
}
