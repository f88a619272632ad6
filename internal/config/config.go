package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	HistoryDBPath        string `envconfig:"HISTORY_DB_PATH" default:"./data/history.db"`
	HistoryRetentionDays int    `envconfig:"HISTORY_RETENTION_DAYS" default:"90"`
	EmbeddingEndpoint    string `envconfig:"EMBEDDING_ENDPOINT" default:""`
	ConfigDir            string `envconfig:"AGGREGATOR_CONFIG_DIR" default:"./config"`
	LastSuccessPath      string `envconfig:"LAST_SUCCESS_PATH" default:"./data/last_success.json"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HistoryRetentionDays < 1 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must be >= 1")
	}
	if strings.TrimSpace(c.HistoryDBPath) == "" {
		return fmt.Errorf("HISTORY_DB_PATH is required")
	}
	if strings.TrimSpace(c.ConfigDir) == "" {
		return fmt.Errorf("AGGREGATOR_CONFIG_DIR is required")
	}
	if strings.TrimSpace(c.LastSuccessPath) == "" {
		return fmt.Errorf("LAST_SUCCESS_PATH is required")
	}
	return nil
}
