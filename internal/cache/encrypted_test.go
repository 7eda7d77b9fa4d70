package cache

import (
	"bytes"
	"context"
	"testing"

	"todo-go/internal/encryption"
)

func TestEncryptedCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryCache()
	enc := encryption.NewTestEncryptor()
	dec, err := enc.Unlock("pw")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	c := NewEncryptedCache(inner, enc, dec)

	plaintext := []byte(`[{"id":"1","title":"Comprar"}]`)
	if err := c.Set(ctx, "tasks", plaintext); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	raw, _ := inner.Get(ctx, "tasks")
	if bytes.Contains(raw, []byte("Comprar")) {
		t.Error("inner cache holds plaintext")
	}

	got, err := c.Get(ctx, "tasks")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Get() = %q, want %q", got, plaintext)
	}

	missing, err := c.Get(ctx, "missing")
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = %q, %v, want nil, nil", missing, err)
	}
}

func TestEncryptedCache_UnencryptedEntryFails(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryCache()
	inner.Set(ctx, "tasks", []byte("[]"))

	enc := encryption.NewTestEncryptor()
	dec, _ := enc.Unlock("pw")
	c := NewEncryptedCache(inner, enc, dec)

	if _, err := c.Get(ctx, "tasks"); err == nil {
		t.Error("Get() of a plaintext entry expected error")
	}
}
