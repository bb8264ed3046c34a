package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	APIBaseURL string `env:"KBANK_API_URL" envDefault:"http://localhost:8000/api"`
	TokenFile  string `env:"KBANK_TOKEN_FILE"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv     string `env:"APP_ENV" envDefault:"production"`

	HTTPTimeoutS      int `env:"HTTP_TIMEOUT_S" envDefault:"10"`
	FetchMaxRetries   int `env:"FETCH_MAX_RETRIES" envDefault:"3"`
	ReconcileDelayS   int `env:"RECONCILE_DELAY_S" envDefault:"5"`
	NotificationTTLS  int `env:"NOTIFICATION_TTL_S" envDefault:"5"`
	TransactionsLimit int `env:"TRANSACTIONS_PAGE_LIMIT" envDefault:"20"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if cfg.TokenFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config.Load: resolve token file: %w", err)
		}
		cfg.TokenFile = filepath.Join(home, ".kbank", "token")
	}

	return &cfg, nil
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutS) * time.Second
}

func (c *Config) ReconcileDelay() time.Duration {
	return time.Duration(c.ReconcileDelayS) * time.Second
}

func (c *Config) NotificationTTL() time.Duration {
	return time.Duration(c.NotificationTTLS) * time.Second
}
