// Package config centralises configuration parsing for the calculator services.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config captures runtime configuration values shared by the binaries.
type Config struct {
	HTTPAddress    string `yaml:"http_address" env:"HTTP_ADDRESS" env-default:":8080"`
	MetricsAddress string `yaml:"metrics_address" env:"METRICS_ADDRESS" env-default:":9190"`
	// PostgresURL selects the Postgres repository and outbox. Empty keeps feedback in memory.
	PostgresURL    string `yaml:"postgres_url" env:"POSTGRES_URL"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"MIGRATE_ON_START" env-default:"false"`

	KafkaBrokers       []string      `yaml:"kafka_brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"kafka:9092"`
	SchemaRegistryURL  string        `yaml:"schema_registry_url" env:"SCHEMA_REGISTRY_URL" env-default:"http://schema-registry:8081"`
	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval" env:"OUTBOX_POLL_INTERVAL" env-default:"2s"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"25"`

	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"dev-secret-change-me"`
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER" env-default:"calcpro.identity"`

	DLQPollInterval time.Duration `yaml:"dlq_poll_interval" env:"DLQ_POLL_INTERVAL" env-default:"30s"` // Interval between DLQ polling iterations.
	DLQMaxRetries   int           `yaml:"dlq_max_retries" env:"DLQ_MAX_RETRIES" env-default:"5"`      // Retry attempts before quarantine.
	DLQBaseDelay    time.Duration `yaml:"dlq_base_delay" env:"DLQ_BASE_DELAY" env-default:"1m"`        // Base delay for exponential backoff.

	ConsumerGroupID string   `yaml:"consumer_group_id" env:"CONSUMER_GROUP_ID" env-default:"calcpro-feedback-log"`
	ConsumerTopics  []string `yaml:"consumer_topics" env:"CONSUMER_TOPICS" env-separator:"," env-default:"feedback_events"`

	ShareBaseURL        string `yaml:"share_base_url" env:"SHARE_BASE_URL" env-default:"http://localhost:5173/"`
	BackupMaxTokenBytes int    `yaml:"backup_max_token_bytes" env:"BACKUP_MAX_TOKEN_BYTES" env-default:"65536"`
	CatalogFile         string `yaml:"catalog_file" env:"CATALOG_FILE"`

	CORSAllowedOrigin  string `yaml:"cors_allowed_origin" env:"CORS_ALLOWED_ORIGIN" env-default:"*"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE" env-default:"30"`
	RateLimitBurst     int    `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST" env-default:"10"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads configuration from environment variables, layered over an optional YAML file
// named by CONFIG_PATH. Priority: ENV > YAML > defaults.
func Load() (Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the binaries cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL must be positive"))
	}
	if c.DLQPollInterval <= 0 {
		errs = append(errs, errors.New("DLQ_POLL_INTERVAL must be positive"))
	}
	if c.BackupMaxTokenBytes <= 0 {
		errs = append(errs, errors.New("BACKUP_MAX_TOKEN_BYTES must be positive"))
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be positive"))
	}
	if u, err := url.Parse(c.ShareBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SHARE_BASE_URL must be an absolute URL, got %q", c.ShareBaseURL))
	}
	return errors.Join(errs...)
}
