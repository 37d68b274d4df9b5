// Package config loads flowsentinel's configuration from environment
// variables, adapting the teacher's EnvConfig loader pattern to the
// store/engine/logging surface this module exposes. Flags and config files
// are resolved by cmd/flowctl, not by this package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig loads configuration values from environment variables, with an
// optional key prefix.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates an environment configuration loader with prefix
// (empty for none).
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

// GetString retrieves a string value or defaultValue if unset.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value or panics.
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value or defaultValue if unset/invalid.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value or defaultValue if unset/invalid.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value or defaultValue if unset/invalid.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetStringSlice retrieves a comma-separated list, trimming blank elements.
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(ec.buildKey(key))
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// Backend selects which Store implementation EngineConfig wires up.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// ConnectionMode mirrors redisstore.ConnectionMode without importing it here,
// keeping config free of a dependency on the store packages.
type ConnectionMode string

const (
	ModeShared    ConnectionMode = "shared"
	ModeDedicated ConnectionMode = "dedicated"
)

// SlidingReset mirrors the store packages' sliding-reset policy names.
type SlidingReset string

const (
	OnRead         SlidingReset = "ON_READ"
	OnWrite        SlidingReset = "ON_WRITE"
	OnReadAndWrite SlidingReset = "ON_READ_AND_WRITE"
)

// MemoryStoreConfig configures the memstore backend.
type MemoryStoreConfig struct {
	MaximumSize    int
	TTL            time.Duration
	AbsoluteTTL    time.Duration
	SlidingEnabled bool
	SlidingReset   SlidingReset
	SweepInterval  time.Duration
}

// RedisStoreConfig configures the redisstore backend.
type RedisStoreConfig struct {
	Namespace      string
	TTL            time.Duration
	AbsoluteTTL    time.Duration
	SlidingEnabled bool
	SlidingReset   SlidingReset
	Mode           ConnectionMode
	Host           string
	Port           int
	Database       int
	Password       string
	CommandTimeout time.Duration
	ConnectTimeout time.Duration
}

// StoreConfig selects and configures one backend.
type StoreConfig struct {
	Backend Backend
	Memory  MemoryStoreConfig
	Redis   RedisStoreConfig
}

// EngineConfig configures the engine.
type EngineConfig struct {
	MaxHistory int
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	Level     string
	Format    string
	AddCaller bool
}

// Config is flowsentinel's fully-resolved configuration surface.
type Config struct {
	Logging LoggingConfig
	Store   StoreConfig
	Engine  EngineConfig
}

// Load builds a Config from environment variables with the given prefix
// (empty for none), applying the documented defaults for any value left
// unset. It never reads a config file itself — cmd/flowctl layers a
// viper-based file/flag resolution on top of these same keys.
func Load(prefix string) Config {
	env := NewEnvConfig(prefix)
	return Config{
		Logging: LoggingConfig{
			Level:     env.GetString("LOG_LEVEL", "info"),
			Format:    env.GetString("LOG_FORMAT", "text"),
			AddCaller: env.GetBool("LOG_CALLER", false),
		},
		Store: StoreConfig{
			Backend: Backend(env.GetString("STORE_BACKEND", string(BackendMemory))),
			Memory: MemoryStoreConfig{
				MaximumSize:    env.GetInt("STORE_MAX_SIZE", 10000),
				TTL:            env.GetDuration("STORE_TTL", time.Hour),
				AbsoluteTTL:    env.GetDuration("STORE_ABSOLUTE_TTL", 0),
				SlidingEnabled: env.GetBool("STORE_SLIDING_ENABLED", false),
				SlidingReset:   SlidingReset(env.GetString("STORE_SLIDING_RESET", string(OnRead))),
				SweepInterval:  env.GetDuration("STORE_SWEEP_INTERVAL", 30*time.Second),
			},
			Redis: RedisStoreConfig{
				Namespace:      env.GetString("REDIS_NAMESPACE", "fs:flow:"),
				TTL:            env.GetDuration("REDIS_TTL", time.Hour),
				AbsoluteTTL:    env.GetDuration("REDIS_ABSOLUTE_TTL", 0),
				SlidingEnabled: env.GetBool("REDIS_SLIDING_ENABLED", false),
				SlidingReset:   SlidingReset(env.GetString("REDIS_SLIDING_RESET", string(OnRead))),
				Mode:           ConnectionMode(env.GetString("REDIS_MODE", string(ModeShared))),
				Host:           env.GetString("REDIS_HOST", "localhost"),
				Port:           env.GetInt("REDIS_PORT", 6379),
				Database:       env.GetInt("REDIS_DATABASE", 0),
				Password:       env.GetString("REDIS_PASSWORD", ""),
				CommandTimeout: env.GetDuration("REDIS_COMMAND_TIMEOUT", 5*time.Second),
				ConnectTimeout: env.GetDuration("REDIS_CONNECT_TIMEOUT", 5*time.Second),
			},
		},
		Engine: EngineConfig{
			MaxHistory: env.GetInt("ENGINE_MAX_HISTORY", 100),
		},
	}
}
