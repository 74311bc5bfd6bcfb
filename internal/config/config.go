package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/nimafallahian/go-indexflow/internal/orchestration"
)

// Supported search backends.
const (
	BackendElasticsearch = "elasticsearch"
	BackendMeilisearch   = "meilisearch"
)

// Config holds the runtime configuration for the indexer service.
type Config struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS,notEmpty" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"changesets"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"indexer-group"`

	Backend        string        `env:"BACKEND" envDefault:"elasticsearch"`
	ElasticURLs    []string      `env:"ELASTIC_URLS" envSeparator:","`
	MeiliHost      string        `env:"MEILI_HOST"`
	MeiliAPIKey    string        `env:"MEILI_API_KEY"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	Strategy              string        `env:"ORCHESTRATION_STRATEGY" envDefault:"serial"`
	MinBulkSize           int           `env:"MIN_BULK_SIZE" envDefault:"2"`
	MaxBulkSize           int           `env:"MAX_BULK_SIZE" envDefault:"250"`
	BatchDelay            time.Duration `env:"BATCH_DELAY" envDefault:"100ms"`
	MaxChangesetsPerBatch int           `env:"MAX_CHANGESETS_PER_BATCH" envDefault:"1000"`
	RefreshAfterWrite     bool          `env:"REFRESH_AFTER_WRITE" envDefault:"false"`

	WorkerCount int    `env:"WORKER_COUNT" envDefault:"5"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	cfg.Backend = strings.ToLower(cfg.Backend)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the backend settings and the orchestration settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendElasticsearch:
		if len(c.ElasticURLs) == 0 {
			return fmt.Errorf("ELASTIC_URLS must be set for backend %q", c.Backend)
		}
	case BackendMeilisearch:
		if c.MeiliHost == "" {
			return fmt.Errorf("MEILI_HOST must be set for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if err := c.Orchestration().Validate(); err != nil {
		return fmt.Errorf("orchestration config: %w", err)
	}
	return nil
}

// Orchestration returns the batching settings.
func (c *Config) Orchestration() orchestration.Config {
	return orchestration.Config{
		Strategy:              orchestration.Strategy(strings.ToLower(c.Strategy)),
		MinBulkSize:           c.MinBulkSize,
		MaxBulkSize:           c.MaxBulkSize,
		Delay:                 c.BatchDelay,
		MaxChangesetsPerBatch: c.MaxChangesetsPerBatch,
		RefreshAfterWrite:     c.RefreshAfterWrite,
	}
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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
