package cache

import (
	"bytes"
	"context"
	"fmt"

	"todo-go/internal/todo"
)

// EncryptedCache encrypts values before handing them to the wrapped cache.
// Keys are stored in the clear.
type EncryptedCache struct {
	inner todo.Cache
	enc   todo.Encryptor
	dec   todo.DecryptionContext
}

var _ todo.Cache = (*EncryptedCache)(nil)

// NewEncryptedCache wraps inner. dec must come from enc.Unlock.
func NewEncryptedCache(inner todo.Cache, enc todo.Encryptor, dec todo.DecryptionContext) *EncryptedCache {
	return &EncryptedCache{inner: inner, enc: enc, dec: dec}
}

func (c *EncryptedCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.inner.Get(ctx, key)
	if err != nil || data == nil {
		return data, err
	}
	var out bytes.Buffer
	if err := c.dec.Decrypt(bytes.NewReader(data), &out); err != nil {
		return nil, fmt.Errorf("decrypting cache entry %s: %w", key, err)
	}
	return out.Bytes(), nil
}

func (c *EncryptedCache) Set(ctx context.Context, key string, value []byte) error {
	var out bytes.Buffer
	if err := c.enc.Encrypt(bytes.NewReader(value), &out); err != nil {
		return fmt.Errorf("encrypting cache entry %s: %w", key, err)
	}
	return c.inner.Set(ctx, key, out.Bytes())
}

func (c *EncryptedCache) Close() error {
	return c.inner.Close()
}
