package docstore

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-go/internal/config"
	"todo-go/internal/todo"
)

const defaultPollInterval = 5 * time.Second

// NewDocumentStoreFromConfig creates a DocumentStore based on the store config type.
// A memory store with a path is backed by that file; if the file cannot be
// opened the store falls back to process memory and logs a warning instead of
// failing.
func NewDocumentStoreFromConfig(cfg config.StoreConfig, logger todo.Logger) (todo.DocumentStore, error) {
	switch cfg.Type {
	case "memory":
		if cfg.Path == "" {
			return NewMemoryStore(), nil
		}
		fs, err := NewFileStore(cfg.Path, logger)
		if err != nil {
			logger.Warn("falling back to unpersisted memory store", "path", cfg.Path, "error", err)
			return NewMemoryStore(), nil
		}
		return fs, nil
	case "redis":
		opts, err := ParseRedisOptions(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		return NewRedisStore(redis.NewClient(opts), cfg.RedisPrefix, logger), nil
	case "aztables":
		if cfg.AzureConnectionString == "" {
			return nil, fmt.Errorf("aztables store requires azure_connection_string to be set")
		}
		ts, err := NewTableStore(cfg.AzureConnectionString, cfg.AzureTablePrefix, cfg.PollIntervalOrDefault(defaultPollInterval), logger)
		if err != nil {
			return nil, err
		}
		return ts, nil
	case "local":
		return nil, fmt.Errorf("store type %q has no remote document store", cfg.Type)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
