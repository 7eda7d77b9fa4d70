package testutil

import (
	"todo-go/internal/encryption"
	"todo-go/internal/todo"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() todo.Encryptor {
	return encryption.NewTestEncryptor()
}
