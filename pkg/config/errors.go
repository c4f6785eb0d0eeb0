package config

import "errors"

var (
	// ErrConfigFileNotFound is returned when config file is not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidDuration is returned when a duration field fails to parse
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrUnknownStoreType is returned for an unsupported store type
	ErrUnknownStoreType = errors.New("unknown store type (supported: memory, leveldb, redis)")

	// ErrUnknownBusTransport is returned for an unsupported bus transport
	ErrUnknownBusTransport = errors.New("unknown bus transport (supported: memory, redis)")

	// ErrRedisAddrRequired is returned when a redis backend is selected without an address
	ErrRedisAddrRequired = errors.New("redis addr is required")
)
