// Package kvs provides the shared key-value store that session peers
// coordinate through, with implementations for Memory, LevelDB, and Redis.
//
// Unlike a plain cache, this store supports watching individual keys for
// changes. Watching is what lets one session peer observe writes made by its
// siblings, which is the fallback delivery path of the cross-peer event bus.
package kvs

import (
	"context"
	"errors"
	"time"
)

// Store is a key-value store shared by all session peers of one deployment.
// All implementations must be thread-safe.
type Store interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	// Does not return an error if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists and has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Watch returns a channel that receives a Change whenever the key is
	// written or deleted. The channel is closed when ctx is cancelled or the
	// store is closed. Delivery is best-effort: a slow consumer may miss
	// intermediate changes, but will always observe a change after the most
	// recent write (consumers should re-read the key, not trust the payload
	// ordering).
	Watch(ctx context.Context, key string) (<-chan Change, error)

	// Close closes the store and releases resources.
	// After Close is called, all operations should return ErrClosed.
	Close() error
}

// Change describes a single observed write or delete of a watched key.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
	At      time.Time
}

// Common errors
var (
	// ErrNotFound is returned when a key is not found or has expired.
	ErrNotFound = errors.New("kvs: key not found")

	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("kvs: store is closed")
)

// Config represents the configuration for creating a KVS store.
type Config struct {
	// Type specifies the store type: "memory", "leveldb", or "redis"
	Type string `yaml:"type"`

	// Namespace provides logical isolation within the store.
	Namespace string `yaml:"namespace"`

	// Memory-specific config
	Memory MemoryConfig `yaml:"memory"`

	// LevelDB-specific config
	LevelDB LevelDBConfig `yaml:"leveldb"`

	// Redis-specific config
	Redis RedisConfig `yaml:"redis"`
}

// MemoryConfig configures the in-memory store.
type MemoryConfig struct {
	// CleanupInterval is how often to scan for and remove expired keys.
	// Default: 5 minutes
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LevelDBConfig configures the LevelDB store.
type LevelDBConfig struct {
	// Path is the directory path for LevelDB storage.
	// If empty, a directory under the OS cache dir is used.
	Path string `yaml:"path"`

	// SyncWrites enables synchronous writes (slower but safer).
	SyncWrites bool `yaml:"sync_writes"`

	// CleanupInterval is how often to scan for and remove expired keys.
	// Default: 5 minutes
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// WatchInterval is the polling interval used to detect key changes.
	// LevelDB has no native change notification, so Watch polls.
	// Default: 150 milliseconds
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string `yaml:"addr"`

	// Password is the Redis password (optional)
	Password string `yaml:"password"`

	// DB is the Redis database number (0-15)
	DB int `yaml:"db"`

	// PoolSize is the maximum number of socket connections (0 = driver default)
	PoolSize int `yaml:"pool_size"`
}

// New creates a new KVS store based on the provided config.
// The Namespace field provides logical isolation - implementation varies by backend:
// - Memory: key prefix within the instance
// - LevelDB: key prefix within the database
// - Redis: key prefix per namespace
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(cfg.Namespace, cfg.Memory)
	case "leveldb":
		return NewLevelDBStore(cfg.Namespace, cfg.LevelDB)
	case "redis":
		return NewRedisStore(cfg.Namespace, cfg.Redis)
	default:
		return nil, errors.New("kvs: unsupported store type: " + cfg.Type)
	}
}
