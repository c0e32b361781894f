// Package config loads the ambient settings of the relay process from the
// environment. The relay address and bus capacity are fixed in cmd/server.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string        `env:"LOG_FORMAT" envDefault:"json"`
	MetricsAddr  string        `env:"METRICS_ADDR" envDefault:":9090"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"0s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	if cfg.WriteTimeout < 0 {
		return fmt.Errorf("WRITE_TIMEOUT must not be negative, got %s", cfg.WriteTimeout)
	}
	return nil
}
