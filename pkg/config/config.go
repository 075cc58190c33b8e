// Package config loads telemetry daemon configuration from the
// environment, with an optional YAML file overlay that can be watched
// for changes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shellquest/telemetry/pkg/observability"
	"github.com/shellquest/telemetry/pkg/storage"
)

// Config holds all daemon configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Engine        EngineConfig        `yaml:"engine"`
	Redis         RedisConfig         `yaml:"redis"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig holds the analytics engine tunables.
type EngineConfig struct {
	BufferSize       int           `yaml:"buffer_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	MaxPendingEvents int           `yaml:"max_pending_events"`
	Salt             string        `yaml:"salt"`
	RetentionDays    int           `yaml:"retention_days"`
	ArchiveEnabled   bool          `yaml:"archive_enabled"`
}

// RedisConfig holds the optional read-cache settings. An empty Addr
// disables the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ArchiveConfig holds the object storage settings for
// archive-before-purge. An empty Bucket disables archiving regardless
// of Engine.ArchiveEnabled.
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
	KeyPrefix    string `yaml:"key_prefix"`
}

// CleanupConfig holds the retention job schedule.
type CleanupConfig struct {
	// Schedule is a cron expression. Empty disables the scheduled job.
	Schedule string `yaml:"schedule"`
}

// ObservabilityConfig holds logging, metrics, and tracing settings.
type ObservabilityConfig struct {
	LogLevel           string `yaml:"log_level"`
	MetricsEnabled     bool   `yaml:"metrics_enabled"`
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SHELLQUEST_HOST", "0.0.0.0"),
			Port:            getEnv("SHELLQUEST_PORT", "8080"),
			ReadTimeout:     getEnvDuration("SHELLQUEST_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SHELLQUEST_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SHELLQUEST_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SHELLQUEST_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: storage.Config{
			Driver: getEnv("SHELLQUEST_STORAGE_DRIVER", storage.DriverSQLite),
			DSN:    getEnv("SHELLQUEST_STORAGE_DSN", "telemetry.db"),
		},
		Engine: EngineConfig{
			BufferSize:       getEnvInt("SHELLQUEST_BUFFER_SIZE", 50),
			FlushInterval:    getEnvDuration("SHELLQUEST_FLUSH_INTERVAL", 5*time.Minute),
			MaxPendingEvents: getEnvInt("SHELLQUEST_MAX_PENDING_EVENTS", 0),
			Salt:             getEnv("SHELLQUEST_ANONYMIZER_SALT", ""),
			RetentionDays:    getEnvInt("SHELLQUEST_RETENTION_DAYS", 90),
			ArchiveEnabled:   getEnvBool("SHELLQUEST_ARCHIVE_ENABLED", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("SHELLQUEST_REDIS_ADDR", ""),
			Password: getEnv("SHELLQUEST_REDIS_PASSWORD", ""),
			DB:       getEnvInt("SHELLQUEST_REDIS_DB", 0),
			TTL:      getEnvDuration("SHELLQUEST_REDIS_TTL", 30*time.Second),
		},
		Archive: ArchiveConfig{
			Bucket:       getEnv("SHELLQUEST_ARCHIVE_BUCKET", ""),
			Region:       getEnv("SHELLQUEST_ARCHIVE_REGION", "us-east-1"),
			Endpoint:     getEnv("SHELLQUEST_ARCHIVE_ENDPOINT", ""),
			AccessKey:    getEnv("SHELLQUEST_ARCHIVE_ACCESS_KEY", ""),
			SecretKey:    getEnv("SHELLQUEST_ARCHIVE_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("SHELLQUEST_ARCHIVE_USE_PATH_STYLE", false),
			KeyPrefix:    getEnv("SHELLQUEST_ARCHIVE_KEY_PREFIX", ""),
		},
		Cleanup: CleanupConfig{
			Schedule: getEnv("SHELLQUEST_CLEANUP_SCHEDULE", "0 3 * * *"),
		},
		Observability: ObservabilityConfig{
			LogLevel:           getEnv("SHELLQUEST_LOG_LEVEL", "info"),
			MetricsEnabled:     getEnvBool("SHELLQUEST_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("SHELLQUEST_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("SHELLQUEST_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("SHELLQUEST_OTEL_SERVICE_NAME", "shellquest-telemetry"),
			OTelServiceVersion: getEnv("SHELLQUEST_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("SHELLQUEST_OTEL_INSECURE", true),
		},
	}

	if path := getEnv("SHELLQUEST_CONFIG_FILE", ""); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("invalid storage driver: %s (must be sqlite or postgres)", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage DSN is required")
	}

	if c.Engine.BufferSize < 0 {
		return fmt.Errorf("buffer size must not be negative")
	}
	if c.Engine.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if c.Engine.ArchiveEnabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive bucket is required when archiving is enabled")
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Observability.LogLevel)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
