package cache

import (
	"errors"
	"fmt"
	"path/filepath"

	"todo-go/internal/config"
	"todo-go/internal/encryption"
	"todo-go/internal/todo"
)

// NewCacheFromConfig creates a Cache based on the cache config type. When
// encryption is enabled the cache is wrapped in an EncryptedCache unlocked
// with passphrase.
func NewCacheFromConfig(cfg config.CacheConfig, clock todo.Clock, passphrase string) (todo.Cache, error) {
	var base todo.Cache
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite cache")
		}
		base = NewSQLiteCache(filepath.Join(cfg.DataDir, "cache.db"), clock)
	case "memory":
		base = NewMemoryCache()
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating cache encryptor: %w", err)
	}
	if enc == nil {
		return base, nil
	}
	if !enc.IsConfigured() {
		return nil, errors.New("cache encryption keys missing: run `todo cache keygen`")
	}
	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking cache key: %w", err)
	}
	return NewEncryptedCache(base, enc, dec), nil
}
