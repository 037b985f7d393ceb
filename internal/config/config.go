// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v9"
)

// Config holds the process-level configuration.
type Config struct {
	DataDir   string `env:"HOSTSMGR_DATA_DIR" envDefault:"./data"`
	LogLevel  string `env:"HOSTSMGR_LOG_LEVEL" envDefault:"info"`
	HistoryDB string `env:"HOSTSMGR_HISTORY_DB"`
}

// Load reads configuration from environment variables. The history database
// defaults to history.db inside the data directory.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = filepath.Join(cfg.DataDir, "history.db")
	}
	return cfg, nil
}
