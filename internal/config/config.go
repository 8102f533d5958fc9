// Package config provides unified configuration for the Traceline pipeline:
// the ingestion server, the storage/partition layer, and the client defaults
// used by the producer CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage mode selectors.
const (
	StorageModeFile = "file"
	StorageModeBulk = "bulk-store"
	StorageModeAuto = "auto"
)

// Config holds the full Traceline configuration.
type Config struct {
	// DataDir is the base directory for file-mode storage and scratch files.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration for the ingestion server
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Storage backend configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Ingest service configuration
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Client defaults for embedded producers and the emit CLI
	Client ClientConfig `json:"client" yaml:"client"`

	// Archive configuration for retired partitions
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// RetentionMonths is how many whole months of partitions to keep when
	// the retire operation runs. Partitions older than the cutoff are
	// archived or dropped.
	RetentionMonths int `json:"retention_months" yaml:"retention_months"`
}

// HTTPConfig holds ingestion HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address for the ingestion server
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	// Mode is the backend selector: file, bulk-store, auto.
	// Auto picks bulk-store when DatabaseURL is set, file otherwise.
	Mode string `json:"mode" yaml:"mode"`

	// FilePath is the newline-delimited JSON file for file mode
	FilePath string `json:"file_path" yaml:"file_path"`

	// DatabaseURL is the Postgres DSN for bulk-store mode
	DatabaseURL string `json:"database_url" yaml:"database_url"`

	// PoolMinConns and PoolMaxConns bound the backend connection pool.
	// The pool is sized independently of request concurrency; requests
	// queue for a connection rather than spawning new ones.
	PoolMinConns int32 `json:"pool_min_conns" yaml:"pool_min_conns"`
	PoolMaxConns int32 `json:"pool_max_conns" yaml:"pool_max_conns"`
}

// IngestConfig holds the service-side bounded retry policy for bulk writes.
type IngestConfig struct {
	// RetryMaxAttempts is the total number of bulk write attempts
	RetryMaxAttempts int `json:"retry_max_attempts" yaml:"retry_max_attempts"`

	// RetryBaseDelay is the initial backoff delay
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`

	// RetryMaxDelay caps the exponential backoff delay
	RetryMaxDelay time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
}

// ClientConfig holds producer-side buffering and delivery defaults.
type ClientConfig struct {
	// Endpoint is the backend base URL; empty selects the durable-file
	// transport instead of the network transport.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SpoolPath is the local append-only file used when no endpoint is set
	SpoolPath string `json:"spool_path" yaml:"spool_path"`

	// FlushBatchSize triggers a flush when the buffer reaches this count
	FlushBatchSize int `json:"flush_batch_size" yaml:"flush_batch_size"`

	// FlushInterval triggers a flush when this much time has elapsed
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`

	// BufferCapacity is the hard ceiling; oldest records are dropped beyond it
	BufferCapacity int `json:"buffer_capacity" yaml:"buffer_capacity"`

	// RetryMaxAttempts, RetryBaseDelay, RetryMaxDelay shape the flush-loop
	// backoff; after the cap the batch is dropped and counted.
	RetryMaxAttempts int           `json:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`

	// CloseTimeout bounds the best-effort final flush on shutdown
	CloseTimeout time.Duration `json:"close_timeout" yaml:"close_timeout"`
}

// ArchiveConfig holds object storage configuration for retired partitions.
type ArchiveConfig struct {
	// Type is the archive storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local archive directory (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 archive storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/traceline",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Storage: StorageConfig{
			Mode:         StorageModeAuto,
			PoolMinConns: 2,
			PoolMaxConns: 10,
		},
		Ingest: IngestConfig{
			RetryMaxAttempts: 3,
			RetryBaseDelay:   100 * time.Millisecond,
			RetryMaxDelay:    2 * time.Second,
		},
		Client: ClientConfig{
			FlushBatchSize:   100,
			FlushInterval:    time.Second,
			BufferCapacity:   10000,
			RetryMaxAttempts: 5,
			RetryBaseDelay:   200 * time.Millisecond,
			RetryMaxDelay:    10 * time.Second,
			CloseTimeout:     2 * time.Second,
		},
		Archive: ArchiveConfig{
			Type: "local",
		},
		RetentionMonths: 12,
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/traceline"
	}
	if c.Storage.FilePath == "" {
		c.Storage.FilePath = filepath.Join(c.DataDir, "events.ndjson")
	}
	if c.Client.SpoolPath == "" {
		c.Client.SpoolPath = filepath.Join(c.DataDir, "spool.ndjson")
	}
	if c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.DataDir, "archive")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case StorageModeFile, StorageModeBulk, StorageModeAuto:
		// Valid modes
	default:
		return fmt.Errorf("invalid storage mode: %s (must be file, bulk-store, or auto)", c.Storage.Mode)
	}

	if c.Storage.Mode == StorageModeBulk && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("storage.database_url is required when storage mode is bulk-store")
	}

	if c.Storage.PoolMinConns < 0 || c.Storage.PoolMaxConns < 1 {
		return fmt.Errorf("storage pool bounds must be positive, got min=%d max=%d",
			c.Storage.PoolMinConns, c.Storage.PoolMaxConns)
	}
	if c.Storage.PoolMinConns > c.Storage.PoolMaxConns {
		return fmt.Errorf("storage.pool_min_conns (%d) exceeds pool_max_conns (%d)",
			c.Storage.PoolMinConns, c.Storage.PoolMaxConns)
	}

	if c.Archive.Type != "local" && c.Archive.Type != "s3" {
		return fmt.Errorf("invalid archive type: %s (must be local or s3)", c.Archive.Type)
	}
	if c.Archive.Type == "s3" && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket is required when archive type is s3")
	}

	if c.Client.FlushBatchSize < 1 {
		return fmt.Errorf("client.flush_batch_size must be at least 1, got %d", c.Client.FlushBatchSize)
	}
	if c.Client.BufferCapacity < c.Client.FlushBatchSize {
		return fmt.Errorf("client.buffer_capacity (%d) must be at least flush_batch_size (%d)",
			c.Client.BufferCapacity, c.Client.FlushBatchSize)
	}

	if c.Ingest.RetryMaxAttempts < 1 || c.Client.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry_max_attempts must be at least 1")
	}

	return nil
}

// EffectiveStorageMode resolves auto mode against the configured database URL.
func (c *Config) EffectiveStorageMode() string {
	if c.Storage.Mode != StorageModeAuto {
		return c.Storage.Mode
	}
	if c.Storage.DatabaseURL != "" {
		return StorageModeBulk
	}
	return StorageModeFile
}

// RetentionCutoff returns the first instant of the oldest month to keep,
// evaluated against now.
func (c *Config) RetentionCutoff(now time.Time) time.Time {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -c.RetentionMonths, 0)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Storage.FilePath),
	}
	if c.Archive.Type == "local" {
		dirs = append(dirs, c.Archive.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to cfg.
// Environment variables use the TRACELINE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TRACELINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TRACELINE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Storage configuration
	if v := os.Getenv("TRACELINE_STORAGE_MODE"); v != "" {
		cfg.Storage.Mode = v
	}
	if v := os.Getenv("TRACELINE_FILE_PATH"); v != "" {
		cfg.Storage.FilePath = v
	}
	if v := os.Getenv("TRACELINE_DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("TRACELINE_POOL_MIN_CONNS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.Storage.PoolMinConns = int32(n)
		}
	}
	if v := os.Getenv("TRACELINE_POOL_MAX_CONNS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.Storage.PoolMaxConns = int32(n)
		}
	}

	// Ingest retry policy
	if v := os.Getenv("TRACELINE_INGEST_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("TRACELINE_INGEST_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.RetryBaseDelay = d
		}
	}
	if v := os.Getenv("TRACELINE_INGEST_RETRY_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.RetryMaxDelay = d
		}
	}

	// Client configuration
	if v := os.Getenv("TRACELINE_ENDPOINT"); v != "" {
		cfg.Client.Endpoint = v
	}
	if v := os.Getenv("TRACELINE_SPOOL_PATH"); v != "" {
		cfg.Client.SpoolPath = v
	}
	if v := os.Getenv("TRACELINE_FLUSH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.FlushBatchSize = n
		}
	}
	if v := os.Getenv("TRACELINE_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.FlushInterval = d
		}
	}
	if v := os.Getenv("TRACELINE_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.BufferCapacity = n
		}
	}
	if v := os.Getenv("TRACELINE_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("TRACELINE_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.RetryBaseDelay = d
		}
	}
	if v := os.Getenv("TRACELINE_RETRY_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.RetryMaxDelay = d
		}
	}

	// Archive configuration
	if v := os.Getenv("TRACELINE_ARCHIVE_TYPE"); v != "" {
		cfg.Archive.Type = v
	}
	if v := os.Getenv("TRACELINE_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("TRACELINE_ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3.Bucket = v
	}
	if v := os.Getenv("TRACELINE_ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3.Region = v
	}
	if v := os.Getenv("TRACELINE_ARCHIVE_S3_ENDPOINT"); v != "" {
		cfg.Archive.S3.Endpoint = v
	}

	if v := os.Getenv("TRACELINE_RETENTION_MONTHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionMonths = n
		}
	}
}

// Load builds the effective configuration: defaults, then the optional config
// file, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	LoadFromEnv(cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
