package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for todo.
type Config struct {
	BaseDir      string             `toml:"base_dir"`
	LogDir       string             `toml:"log_dir"`
	Log          LogConfig          `toml:"log"`
	Cache        CacheConfig        `toml:"cache"`
	Store        StoreConfig        `toml:"store"`
	RemoteConfig RemoteConfigConfig `toml:"remote_config"`
	HTTP         HTTPConfig         `toml:"http"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	MaxSizeMB  int  `toml:"max_size_mb"` // rotate after this many megabytes, defaults to 10
	MaxBackups int  `toml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days"`
	Stderr     bool `toml:"stderr"` // also write log lines to stderr
}

// CacheConfig represents configuration for the on-device cache.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CacheConfig struct {
	Type       string           `toml:"type"`               // "sqlite" or "memory"
	DataDir    string           `toml:"data_dir,omitempty"` // only used for type=sqlite
	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig holds the age key pair used to encrypt cache values at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "" (disabled), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// StoreConfig selects the backend. "local" keeps everything in the cache
// with no remote leg; every other type is a remote document store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "local", "memory", "redis" or "aztables"

	// Memory-specific fields (only used when Type == "memory").
	// When Path is set the store is persisted there and shared between processes.
	Path string `toml:"path,omitempty"`

	// Redis-specific fields (only used when Type == "redis").
	RedisURL    string `toml:"redis_url,omitempty"`
	RedisPrefix string `toml:"redis_prefix,omitempty"`

	// Azure Tables-specific fields (only used when Type == "aztables").
	AzureConnectionString string `toml:"azure_connection_string,omitempty"`
	AzureTablePrefix      string `toml:"azure_table_prefix,omitempty"`
	PollInterval          string `toml:"poll_interval,omitempty"` // Go duration, defaults to 5s
}

// PollIntervalOrDefault parses PollInterval, returning def when unset or invalid.
func (c StoreConfig) PollIntervalOrDefault(def time.Duration) time.Duration {
	if c.PollInterval == "" {
		return def
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// RemoteConfigConfig selects where feature flags come from.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfigConfig struct {
	Type string `toml:"type"` // "" (defaults only), "static" or "s3"

	// Static-specific fields (only used when Type == "static").
	EnableBulkActions bool   `toml:"enable_bulk_actions,omitempty"`
	Welcome           string `toml:"welcome,omitempty"`

	// S3-specific fields (only used when Type == "s3").
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Key             string `toml:"s3_key,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// HTTPConfig configures `todo serve`.
type HTTPConfig struct {
	Listen string `toml:"listen"`
}

// NewConfig creates a new Config rooted at baseDir: a sqlite cache, a
// file-persisted memory store and default key paths.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Log:     LogConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
		Cache: CacheConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "cache"),
			Encryption: EncryptionConfig{
				PublicKeyPath:  filepath.Join(baseDir, "keys", "cache.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "cache.key"),
			},
		},
		Store: StoreConfig{
			Type: "memory",
			Path: filepath.Join(baseDir, "store", "documents.json"),
		},
		HTTP: HTTPConfig{Listen: "127.0.0.1:8080"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold store credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to a new config file at path. It refuses to overwrite an
// existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
