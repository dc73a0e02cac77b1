// Package config provides configuration management for sved using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultBrokerPort      = 5672
	defaultQueueName       = "sved-tasks"
	defaultRetryDelay      = 30 * time.Second
	defaultHeartbeatPeriod = 10 * time.Second
	defaultDownloadChunk   = 8 * 1024
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Paths    PathsConfig    `mapstructure:"paths"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Flags    FlagsConfig    `mapstructure:"flags"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AdvertiseURL is the base URL workers use to reach this coordinator.
	// Queue envelopes carry absolute URLs built from this value.
	AdvertiseURL string `mapstructure:"advertise_url"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// PathsConfig holds the on-disk media tree configuration.
type PathsConfig struct {
	// Input is the flat directory of source media, read by ingest and
	// served to workers.
	Input string `mapstructure:"input"`
	// Output is the root of the encoded tree:
	// <output>/<profile>/<name> for good artifacts,
	// <output>/invalid/<profile>/<name> for quarantined ones.
	Output string `mapstructure:"output"`
	// WorkDir is the worker's scratch directory for staged downloads and
	// in-progress encodes. Must be disjoint from Input.
	WorkDir string `mapstructure:"workdir"`
}

// RabbitMQConfig holds message broker configuration.
type RabbitMQConfig struct {
	Broker     string `mapstructure:"broker"`
	BrokerPort int    `mapstructure:"broker_port"`
	Queue      string `mapstructure:"queue"`
}

// FlagsConfig holds behavior flags.
type FlagsConfig struct {
	// AutoDelete unlinks the source file after its encode uploads
	// successfully. Leave off when metric tasks will run against the
	// same source.
	AutoDelete bool `mapstructure:"auto_delete"`
}

// WorkerConfig holds worker agent tuning.
type WorkerConfig struct {
	// RetryDelay is the fixed back-off between coordinator retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// HeartbeatPeriod is how often the subprocess supervisor checks
	// broker liveness while a child is running.
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
	// DownloadChunkSize is the streaming copy buffer for downloads.
	DownloadChunkSize int `mapstructure:"download_chunk_size"`
}

// IngestConfig holds input scanning configuration.
type IngestConfig struct {
	// ScanSchedule is an optional cron expression for periodic input
	// directory scans. Empty disables scheduled scans.
	ScanSchedule string `mapstructure:"scan_schedule"`
	// MaxConcurrentProbes bounds parallel ffprobe invocations per scan.
	MaxConcurrentProbes int `mapstructure:"max_concurrent_probes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from the given file path (or the default search
// locations when empty), layered under environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sved")
		v.AddConfigPath("$HOME/.sved")
	}

	v.SetEnvPrefix("SVED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults sets default configuration values on the given Viper instance.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // streamed multi-GB responses must not time out
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.advertise_url", "")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "sved.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Path defaults
	v.SetDefault("paths.input", "./input")
	v.SetDefault("paths.output", "./output")
	v.SetDefault("paths.workdir", "./sved-workdir")

	// Broker defaults
	v.SetDefault("rabbitmq.broker", "")
	v.SetDefault("rabbitmq.broker_port", defaultBrokerPort)
	v.SetDefault("rabbitmq.queue", defaultQueueName)

	// Flag defaults
	v.SetDefault("flags.auto_delete", false)

	// Worker defaults
	v.SetDefault("worker.retry_delay", defaultRetryDelay)
	v.SetDefault("worker.heartbeat_period", defaultHeartbeatPeriod)
	v.SetDefault("worker.download_chunk_size", defaultDownloadChunk)

	// Ingest defaults
	v.SetDefault("ingest.scan_schedule", "")
	v.SetDefault("ingest.max_concurrent_probes", 4)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Paths.Input == "" {
		return fmt.Errorf("paths.input is required (env SVED_PATHS_INPUT)")
	}
	if c.Paths.Output == "" {
		return fmt.Errorf("paths.output is required (env SVED_PATHS_OUTPUT)")
	}
	inputAbs, err := filepath.Abs(c.Paths.Input)
	if err != nil {
		return fmt.Errorf("resolving paths.input: %w", err)
	}
	outputAbs, err := filepath.Abs(c.Paths.Output)
	if err != nil {
		return fmt.Errorf("resolving paths.output: %w", err)
	}
	if inputAbs == outputAbs {
		return fmt.Errorf("paths.input and paths.output must not be the same directory")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Worker.RetryDelay <= 0 {
		return fmt.Errorf("worker.retry_delay must be positive")
	}
	if c.Ingest.MaxConcurrentProbes < 1 {
		return fmt.Errorf("ingest.max_concurrent_probes must be at least 1")
	}

	return nil
}

// ValidateBroker checks that broker connectivity settings are present.
// Both binaries need a reachable broker; the error names the env var and
// config key so startup failures are actionable.
func (c *Config) ValidateBroker() error {
	if c.RabbitMQ.Broker == "" {
		return fmt.Errorf("missing RabbitMQ broker address in environment (SVED_RABBITMQ_BROKER) or config file (rabbitmq.broker)")
	}
	if c.RabbitMQ.BrokerPort < 1 || c.RabbitMQ.BrokerPort > 65535 {
		return fmt.Errorf("missing or invalid RabbitMQ broker port in environment (SVED_RABBITMQ_BROKER_PORT) or config file (rabbitmq.broker_port)")
	}
	if c.RabbitMQ.Queue == "" {
		return fmt.Errorf("missing RabbitMQ queue name in environment (SVED_RABBITMQ_QUEUE) or config file (rabbitmq.queue)")
	}
	return nil
}

// ValidateWorkDir checks that the worker scratch directory is usable and
// disjoint from the input root.
func (c *Config) ValidateWorkDir() error {
	if c.Paths.WorkDir == "" {
		return fmt.Errorf("paths.workdir is required (env SVED_PATHS_WORKDIR)")
	}
	workAbs, err := filepath.Abs(c.Paths.WorkDir)
	if err != nil {
		return fmt.Errorf("resolving paths.workdir: %w", err)
	}
	inputAbs, err := filepath.Abs(c.Paths.Input)
	if err != nil {
		return fmt.Errorf("resolving paths.input: %w", err)
	}
	if workAbs == inputAbs || strings.HasPrefix(workAbs+string(filepath.Separator), inputAbs+string(filepath.Separator)) {
		return fmt.Errorf("paths.workdir must be disjoint from paths.input")
	}
	return nil
}

// AMQPURL builds the broker dial string.
func (c *RabbitMQConfig) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%d/", c.Broker, c.BrokerPort)
}

// Address returns the host:port string for the HTTP server.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the advertised base URL, falling back to the bind address.
func (c *ServerConfig) BaseURL() string {
	if c.AdvertiseURL != "" {
		return strings.TrimRight(c.AdvertiseURL, "/")
	}
	host := c.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}
