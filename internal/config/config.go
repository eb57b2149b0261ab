// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Walletd  WalletdConfig
	Logging  LoggingConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `env:"SERVER_HOST,default=0.0.0.0"`
	Port int    `env:"SERVER_PORT,default=8080"`

	// Per-user request throttling; zero disables it.
	RateLimitPerSecond float64 `env:"SERVER_RATE_LIMIT_PER_SECOND,default=5"`
	RateLimitBurst     int     `env:"SERVER_RATE_LIMIT_BURST,default=10"`
}

// DatabaseConfig controls account persistence. An empty DSN selects the
// in-memory store, which is intended for local development only.
type DatabaseConfig struct {
	DSN             string `env:"DATABASE_DSN"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME_SECONDS,default=300"`
}

// WalletdConfig controls the wallet daemon RPC connection.
type WalletdConfig struct {
	URL              string        `env:"WALLETD_URL,default=http://127.0.0.1:8332/"`
	Username         string        `env:"WALLETD_USERNAME,default=user"`
	Password         string        `env:"WALLETD_PASSWORD"`
	RequestID        string        `env:"WALLETD_REQUEST_ID,default=bubcoinbot"`
	Timeout          time.Duration `env:"WALLETD_TIMEOUT,default=30s"`
	MinConfirmations int           `env:"WALLETD_MIN_CONFIRMATIONS,default=6"`
	HealthSchedule   string        `env:"WALLETD_HEALTH_SCHEDULE,default=@every 30s"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}
