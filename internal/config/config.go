package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort int    `envconfig:"HTTP_PORT" default:"3025"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	SMTP     SMTPConfig
	Store    StoreConfig
}

type SMTPConfig struct {
	Enabled     bool   `envconfig:"SMTP_ENABLED" default:"true"`
	Port        int    `envconfig:"SMTP_PORT" default:"2025"`
	AuthEnabled bool   `envconfig:"SMTP_AUTH_ENABLED" default:"true"`
	Username    string `envconfig:"SMTP_USERNAME" default:"mailcat"`
	Password    string `envconfig:"SMTP_PASSWORD" default:"mailcat"`
}

type StoreConfig struct {
	// DBPath is the SQLite database file; empty keeps everything in memory.
	DBPath  string        `envconfig:"DB_PATH"`
	Timeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	// RevisionAttempts bounds the read-increment-insert loop used to number
	// template revisions under concurrent writers.
	RevisionAttempts int `envconfig:"REVISION_ATTEMPTS" default:"32"`
}

// Load reads a .env file when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Timeout <= 0 {
		return Config{}, fmt.Errorf("load config: STORE_TIMEOUT must be positive")
	}
	if cfg.Store.RevisionAttempts < 1 {
		return Config{}, fmt.Errorf("load config: REVISION_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
