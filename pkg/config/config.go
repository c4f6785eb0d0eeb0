package config

import (
	"fmt"
	"time"

	"github.com/newsroomtools/sessionguard/pkg/bus"
	"github.com/newsroomtools/sessionguard/pkg/kvs"
	"github.com/newsroomtools/sessionguard/pkg/session"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Bus     BusConfig     `yaml:"bus" json:"bus"`
	Session SessionConfig `yaml:"session" json:"session"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// StoreConfig contains shared store settings. Durations are strings in
// Go duration syntax ("5m", "150ms").
type StoreConfig struct {
	Type      string             `yaml:"type" json:"type"` // "memory", "leveldb" or "redis" (default: "memory")
	Namespace string             `yaml:"namespace" json:"namespace"`
	LevelDB   LevelDBStoreConfig `yaml:"leveldb" json:"leveldb"`
	Redis     RedisConfig        `yaml:"redis" json:"redis"`
}

// LevelDBStoreConfig contains LevelDB-specific store settings
type LevelDBStoreConfig struct {
	Path          string `yaml:"path" json:"path"`
	SyncWrites    bool   `yaml:"sync_writes" json:"sync_writes"`
	WatchInterval string `yaml:"watch_interval" json:"watch_interval"`
}

// RedisConfig contains Redis connection settings, shared by the store and
// the bus transport.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// BusConfig contains event bus transport settings
type BusConfig struct {
	// Transport selects the broadcaster: "redis" or "memory" (default:
	// "memory"). With "memory", only peers in the same process hear each
	// other; the store-watch fallback still crosses processes.
	Transport string      `yaml:"transport" json:"transport"`
	Channel   string      `yaml:"channel" json:"channel"`
	Redis     RedisConfig `yaml:"redis" json:"redis"`
}

// SessionConfig contains session timing settings. Durations are strings
// in Go duration syntax.
type SessionConfig struct {
	InactivityTimeout     string `yaml:"inactivity_timeout" json:"inactivity_timeout"`
	WarningWindow         string `yaml:"warning_window" json:"warning_window"`
	ModalThreshold        string `yaml:"modal_threshold" json:"modal_threshold"`
	ActivityWriteInterval string `yaml:"activity_write_interval" json:"activity_write_interval"`
	TickInterval          string `yaml:"tick_interval" json:"tick_interval"`
	LoginPath             string `yaml:"login_path" json:"login_path"`
	EnforcerStaleAfter    string `yaml:"enforcer_stale_after" json:"enforcer_stale_after"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string     `yaml:"level" json:"level"`
	File  FileConfig `yaml:"file" json:"file"`
}

// FileConfig contains log file rotation settings
type FileConfig struct {
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// parseDuration parses a duration string, treating empty as zero.
func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidDuration, field, raw)
	}
	return d, nil
}

// ToKVS converts the store section into the kvs package's config.
func (s StoreConfig) ToKVS() (kvs.Config, error) {
	watchInterval, err := parseDuration("store.leveldb.watch_interval", s.LevelDB.WatchInterval)
	if err != nil {
		return kvs.Config{}, err
	}
	return kvs.Config{
		Type:      s.Type,
		Namespace: s.Namespace,
		LevelDB: kvs.LevelDBConfig{
			Path:          s.LevelDB.Path,
			SyncWrites:    s.LevelDB.SyncWrites,
			WatchInterval: watchInterval,
		},
		Redis: kvs.RedisConfig{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			PoolSize: s.Redis.PoolSize,
		},
	}, nil
}

// ToBroadcaster converts the bus section into the Redis broadcaster
// config. Only meaningful when Transport is "redis".
func (b BusConfig) ToBroadcaster() bus.RedisBroadcasterConfig {
	return bus.RedisBroadcasterConfig{
		Addr:     b.Redis.Addr,
		Password: b.Redis.Password,
		DB:       b.Redis.DB,
		Channel:  b.Channel,
	}
}

// ToSession converts the session section into the controller's config.
func (s SessionConfig) ToSession() (session.Config, error) {
	var cfg session.Config
	var err error
	if cfg.InactivityTimeout, err = parseDuration("session.inactivity_timeout", s.InactivityTimeout); err != nil {
		return cfg, err
	}
	if cfg.WarningWindow, err = parseDuration("session.warning_window", s.WarningWindow); err != nil {
		return cfg, err
	}
	if cfg.ModalThreshold, err = parseDuration("session.modal_threshold", s.ModalThreshold); err != nil {
		return cfg, err
	}
	if cfg.ActivityWriteInterval, err = parseDuration("session.activity_write_interval", s.ActivityWriteInterval); err != nil {
		return cfg, err
	}
	if cfg.TickInterval, err = parseDuration("session.tick_interval", s.TickInterval); err != nil {
		return cfg, err
	}
	if cfg.EnforcerStaleAfter, err = parseDuration("session.enforcer_stale_after", s.EnforcerStaleAfter); err != nil {
		return cfg, err
	}
	cfg.LoginPath = s.LoginPath
	cfg.ApplyDefaults()
	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "", "memory", "leveldb", "redis":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStoreType, c.Store.Type)
	}
	if c.Store.Type == "redis" && c.Store.Redis.Addr == "" {
		return ErrRedisAddrRequired
	}

	switch c.Bus.Transport {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBusTransport, c.Bus.Transport)
	}
	if c.Bus.Transport == "redis" && c.Bus.Redis.Addr == "" {
		return ErrRedisAddrRequired
	}

	// Surface duration syntax errors at load time, not at wiring time.
	if _, err := c.Session.ToSession(); err != nil {
		return err
	}
	if _, err := c.Store.ToKVS(); err != nil {
		return err
	}
	return nil
}
