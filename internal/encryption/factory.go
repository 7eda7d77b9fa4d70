package encryption

import (
	"fmt"

	"todo-go/internal/config"
	"todo-go/internal/todo"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// It returns nil, nil when encryption is disabled.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (todo.Encryptor, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("public_key_path and private_key_path required for age encryption")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
