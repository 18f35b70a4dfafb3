// Package infrastructure provides the concrete adapters behind the domain
// ports: the DynamoDB event log and its change-stream consumer, the two
// projection targets, configuration, logging, and process wiring.
package infrastructure

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	Database DatabaseConfig `mapstructure:"database"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Commands CommandsConfig `mapstructure:"commands"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DynamoDBConfig locates the event log, its change stream, and the KV
// projection tables. Endpoint is only set when pointing at a local
// DynamoDB; AccessKey/SecretKey accompany it for such setups, otherwise the
// default AWS credential chain applies.
type DynamoDBConfig struct {
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	EventsTable   string `mapstructure:"events_table"`
	VersionsTable string `mapstructure:"versions_table"`
	BalanceTable  string `mapstructure:"balance_table"`
	HistoryTable  string `mapstructure:"history_table"`
	StreamARN     string `mapstructure:"stream_arn"`
}

// ConsumerConfig tunes the change-stream consumer.
type ConsumerConfig struct {
	PollIntervalMs       int    `mapstructure:"poll_interval_ms"`
	BatchLimit           int    `mapstructure:"batch_limit"`
	IteratorInit         string `mapstructure:"iterator_init"`
	RedescribeIntervalMs int    `mapstructure:"redescribe_interval_ms"`
}

// PollInterval returns the inter-poll sleep as a duration.
func (c ConsumerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RedescribeInterval returns the shard re-discovery period as a duration.
func (c ConsumerConfig) RedescribeInterval() time.Duration {
	return time.Duration(c.RedescribeIntervalMs) * time.Millisecond
}

// CommandsConfig tunes the command pipeline.
type CommandsConfig struct {
	RetryMax int `mapstructure:"retry_max"`
}

// TimeoutsConfig bounds external calls.
type TimeoutsConfig struct {
	CallMs int `mapstructure:"call_ms"`
}

// CallTimeout returns the per-call deadline as a duration.
func (c TimeoutsConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallMs) * time.Millisecond
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error, fatal
	Format string `mapstructure:"format"` // json, text
}

// LoadConfig loads configuration from an optional config file and the
// environment. Environment variables use the LEDGER_ prefix with dots
// replaced by underscores (LEDGER_DYNAMODB_REGION and so on).
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("dynamodb.region", "us-east-1")
	viper.SetDefault("dynamodb.events_table", "ledger_events")
	viper.SetDefault("dynamodb.versions_table", "ledger_event_versions")
	viper.SetDefault("dynamodb.balance_table", "account_balance")
	viper.SetDefault("dynamodb.history_table", "transaction_history")
	// Keys without a default are not read from the environment on Unmarshal.
	viper.SetDefault("dynamodb.endpoint", "")
	viper.SetDefault("dynamodb.access_key", "")
	viper.SetDefault("dynamodb.secret_key", "")
	viper.SetDefault("dynamodb.stream_arn", "")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "file:ledger.db?cache=shared&mode=rwc")

	viper.SetDefault("consumer.poll_interval_ms", 1000)
	viper.SetDefault("consumer.batch_limit", 100)
	viper.SetDefault("consumer.iterator_init", "after_checkpoint")
	viper.SetDefault("consumer.redescribe_interval_ms", 30000)

	viper.SetDefault("commands.retry_max", 3)
	viper.SetDefault("timeouts.call_ms", 5000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

func validateConfig(config *Config) error {
	switch config.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", config.Database.Driver)
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	switch config.Consumer.IteratorInit {
	case "latest", "trim_horizon", "after_checkpoint":
	default:
		return fmt.Errorf("unsupported iterator_init: %s (supported: latest, trim_horizon, after_checkpoint)", config.Consumer.IteratorInit)
	}
	if config.Consumer.BatchLimit < 1 || config.Consumer.BatchLimit > 1000 {
		return fmt.Errorf("consumer batch_limit must be between 1 and 1000, got %d", config.Consumer.BatchLimit)
	}
	if config.Consumer.PollIntervalMs < 0 {
		return fmt.Errorf("consumer poll_interval_ms must not be negative, got %d", config.Consumer.PollIntervalMs)
	}

	if config.Commands.RetryMax < 0 {
		return fmt.Errorf("commands retry_max must not be negative, got %d", config.Commands.RetryMax)
	}
	if config.Timeouts.CallMs <= 0 {
		return fmt.Errorf("timeouts call_ms must be positive, got %d", config.Timeouts.CallMs)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("unsupported logging level: %s (supported: debug, info, warn, error, fatal)", config.Logging.Level)
	}
	switch config.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported logging format: %s (supported: json, text)", config.Logging.Format)
	}

	return nil
}
