package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Arena buffer size bounds
const (
	MinBufferSize = 64
	MaxBufferSize = 1 << 20
)

// Config holds all application configuration.
// Priority: flags > env vars > .env file > defaults
type Config struct {
	Addr string `env:"FT_ADDR" envDefault:":9000"`

	// Write pipeline
	BufferSize  int `env:"FT_BUFFER_SIZE" envDefault:"16384"`
	ArenaWarmup int `env:"FT_ARENA_WARMUP" envDefault:"256"`

	// Event loop
	ReadBufferSize int           `env:"FT_READ_BUFFER_SIZE" envDefault:"16384"`
	IdleTimeout    time.Duration `env:"FT_IDLE_TIMEOUT" envDefault:"60s"`
	HandlerWorkers int           `env:"FT_HANDLER_WORKERS" envDefault:"0"`

	// Admission
	MaxConnections int     `env:"FT_MAX_CONNECTIONS" envDefault:"100000"`
	AcceptRate     float64 `env:"FT_ACCEPT_RATE" envDefault:"0"` // per second, 0 = unlimited
	AcceptBurst    int     `env:"FT_ACCEPT_BURST" envDefault:"128"`

	// Runtime, 0 keeps the Go default
	GCPercent   int   `env:"FT_GOGC" envDefault:"0"`
	MemoryLimit int64 `env:"FT_MEMORY_LIMIT" envDefault:"0"`

	// Monitoring, empty disables the endpoint
	MetricsAddr string `env:"FT_METRICS_ADDR" envDefault:":9090"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Env string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the environment
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Debug().Msg("no .env file found, using environment only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("FT_ADDR is required")
	}

	if c.BufferSize < MinBufferSize || c.BufferSize > MaxBufferSize {
		return fmt.Errorf("FT_BUFFER_SIZE must be %d-%d, got %d", MinBufferSize, MaxBufferSize, c.BufferSize)
	}
	if c.ArenaWarmup < 0 {
		return fmt.Errorf("FT_ARENA_WARMUP must be >= 0, got %d", c.ArenaWarmup)
	}
	if c.ReadBufferSize < 512 {
		return fmt.Errorf("FT_READ_BUFFER_SIZE must be >= 512, got %d", c.ReadBufferSize)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("FT_IDLE_TIMEOUT must be >= 0, got %s", c.IdleTimeout)
	}
	if c.HandlerWorkers < 0 {
		return fmt.Errorf("FT_HANDLER_WORKERS must be >= 0, got %d", c.HandlerWorkers)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("FT_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.AcceptRate < 0 {
		return fmt.Errorf("FT_ACCEPT_RATE must be >= 0, got %.1f", c.AcceptRate)
	}
	if c.AcceptRate > 0 && c.AcceptBurst < 1 {
		return fmt.Errorf("FT_ACCEPT_BURST must be > 0 when FT_ACCEPT_RATE is set, got %d", c.AcceptBurst)
	}

	if c.GCPercent < 0 {
		return fmt.Errorf("FT_GOGC must be >= 0, got %d", c.GCPercent)
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("FT_MEMORY_LIMIT must be >= 0, got %d", c.MemoryLimit)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the configuration
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Env).
		Str("addr", c.Addr).
		Int("buffer_size", c.BufferSize).
		Int("arena_warmup", c.ArenaWarmup).
		Int("read_buffer_size", c.ReadBufferSize).
		Dur("idle_timeout", c.IdleTimeout).
		Int("handler_workers", c.HandlerWorkers).
		Int("max_connections", c.MaxConnections).
		Float64("accept_rate", c.AcceptRate).
		Int("accept_burst", c.AcceptBurst).
		Int("gc_percent", c.GCPercent).
		Int64("memory_limit", c.MemoryLimit).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
