package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridian-cms/audittrail/pkg/audit"
)

// ErrInvalid marks a malformed configuration. Validation failures are fatal
// at startup: the pipeline refuses to start rather than run with a broken
// policy or redaction set.
var ErrInvalid = errors.New("invalid configuration")

// Deletion frequencies accepted by the configuration schema.
const (
	FrequencyLogAge   = "logAge"
	FrequencyLogCount = "logCount"
)

// Config holds all application configuration. It is loaded once at startup,
// validated, and treated as immutable unless explicitly reloaded through
// the config watcher.
type Config struct {
	// Enabled switches the whole ingestion pipeline.
	Enabled bool `yaml:"enabled"`

	Deletion            DeletionConfig   `yaml:"deletion"`
	ExcludeEndpoints    []string         `yaml:"excludeEndpoints"`
	ExcludeContentTypes []string         `yaml:"excludeContentTypes"`
	RedactedValues      []string         `yaml:"redactedValues"`
	Events              EventsConfig     `yaml:"events"`
	AdminPanel          AdminPanelConfig `yaml:"adminPanel"`

	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DeletionConfig configures the retention policy.
type DeletionConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Frequency string          `yaml:"frequency"`
	Options   DeletionOptions `yaml:"options"`

	// Schedule is the cron expression for automatic cleanup runs.
	Schedule string `yaml:"schedule"`
}

// DeletionOptions carries the mode-specific retention value.
type DeletionOptions struct {
	// Value is the age multiplier (logAge) or maximum retained record
	// count (logCount).
	Value int64 `yaml:"value"`

	// Interval applies in logAge mode: day, week, month or year.
	Interval string `yaml:"interval"`
}

// EventsConfig lists the tracked event actions.
type EventsConfig struct {
	Track []string `yaml:"track"`
}

// AdminPanelConfig is the configuration subset exposed to the log viewer.
type AdminPanelConfig struct {
	IndexTableColumns []string `yaml:"indexTableColumns"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// HealthPort serves health probes and the metrics scrape endpoint.
	HealthPort string `yaml:"healthPort"`

	// DetailCacheSize bounds the immutable-record detail cache.
	DetailCacheSize int `yaml:"detailCacheSize"`
}

// StorageConfig selects and tunes the backing database.
type StorageConfig struct {
	// Driver is "postgres" or "sqlite3".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// RedisConfig configures the optional cleanup-lock backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lockTTL"`
}

// ArchiveConfig configures the optional pre-deletion archive target.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKey    string `yaml:"accessKey"`
	SecretKey    string `yaml:"secretKey"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"logLevel"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`

	OTelEnabled        bool   `yaml:"otelEnabled"`
	OTelEndpoint       string `yaml:"otelEndpoint"`
	OTelServiceName    string `yaml:"otelServiceName"`
	OTelServiceVersion string `yaml:"otelServiceVersion"`
	OTelInsecure       bool   `yaml:"otelInsecure"`
}

// Default returns the configuration used when no file or environment
// overrides are present: 90-day age-based retention and the standard
// content-management event catalog.
func Default() *Config {
	return &Config{
		Enabled: true,
		Deletion: DeletionConfig{
			Enabled:   true,
			Frequency: FrequencyLogAge,
			Options: DeletionOptions{
				Value:    90,
				Interval: string(audit.IntervalDay),
			},
			Schedule: "0 1 * * *",
		},
		ExcludeEndpoints:    []string{"/admin/renew-token", "/api/upload"},
		ExcludeContentTypes: []string{},
		RedactedValues: []string{
			"password",
			"token",
			"jwt",
			"authorization",
			"cookie",
			"session",
			"secret",
			"key",
			"private",
		},
		Events: EventsConfig{
			Track: []string{
				audit.ActionEntryCreate,
				audit.ActionEntryUpdate,
				audit.ActionEntryDelete,
				audit.ActionEntryPublish,
				audit.ActionEntryUnpublish,
				audit.ActionMediaCreate,
				audit.ActionMediaUpdate,
				audit.ActionMediaDelete,
				audit.ActionMediaFolderCreate,
				audit.ActionMediaFolderUpdate,
				audit.ActionMediaFolderDelete,
				audit.ActionUserCreate,
				audit.ActionUserUpdate,
				audit.ActionUserDelete,
				audit.ActionAuthSuccess,
				audit.ActionAuthFailure,
				audit.ActionLogout,
				audit.ActionRoleCreate,
				audit.ActionRoleUpdate,
				audit.ActionRoleDelete,
			},
		},
		AdminPanel: AdminPanelConfig{
			IndexTableColumns: []string{
				"action",
				"date",
				"user",
				"method",
				"status",
				"ipAddress",
				"entry",
				"actions",
			},
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			DetailCacheSize: 512,
		},
		Storage: StorageConfig{
			Driver:          "sqlite3",
			DSN:             "audittrail.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			LockTTL: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "audittrail",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, then validates it. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment overrides on top of file values.
func (c *Config) applyEnv() {
	c.Enabled = getEnvBool("AUDITTRAIL_ENABLED", c.Enabled)

	c.Deletion.Enabled = getEnvBool("AUDITTRAIL_DELETION_ENABLED", c.Deletion.Enabled)
	c.Deletion.Frequency = getEnv("AUDITTRAIL_DELETION_FREQUENCY", c.Deletion.Frequency)
	c.Deletion.Options.Value = getEnvInt64("AUDITTRAIL_DELETION_VALUE", c.Deletion.Options.Value)
	c.Deletion.Options.Interval = getEnv("AUDITTRAIL_DELETION_INTERVAL", c.Deletion.Options.Interval)
	c.Deletion.Schedule = getEnv("AUDITTRAIL_DELETION_SCHEDULE", c.Deletion.Schedule)

	c.Server.Host = getEnv("AUDITTRAIL_HOST", c.Server.Host)
	c.Server.Port = getEnv("AUDITTRAIL_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("AUDITTRAIL_HEALTH_PORT", c.Server.HealthPort)

	c.Storage.Driver = getEnv("AUDITTRAIL_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("AUDITTRAIL_STORAGE_DSN", c.Storage.DSN)

	c.Redis.Addr = getEnv("AUDITTRAIL_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("AUDITTRAIL_REDIS_PASSWORD", c.Redis.Password)

	c.Observability.LogLevel = getEnv("AUDITTRAIL_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.OTelEnabled = getEnvBool("AUDITTRAIL_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("AUDITTRAIL_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
}

// Validate checks the configuration, wrapping every failure in ErrInvalid.
func (c *Config) Validate() error {
	if c.Deletion.Enabled {
		switch c.Deletion.Frequency {
		case FrequencyLogAge:
			switch audit.Interval(c.Deletion.Options.Interval) {
			case audit.IntervalDay, audit.IntervalWeek, audit.IntervalMonth, audit.IntervalYear:
			default:
				return fmt.Errorf("%w: deletion.options.interval must be day, week, month or year, got %q",
					ErrInvalid, c.Deletion.Options.Interval)
			}
		case FrequencyLogCount:
		default:
			return fmt.Errorf("%w: deletion.frequency must be %q or %q, got %q",
				ErrInvalid, FrequencyLogAge, FrequencyLogCount, c.Deletion.Frequency)
		}
		if c.Deletion.Options.Value <= 0 {
			return fmt.Errorf("%w: deletion.options.value must be positive, got %d",
				ErrInvalid, c.Deletion.Options.Value)
		}
	}

	if len(c.RedactedValues) == 0 {
		return fmt.Errorf("%w: redactedValues must not be empty", ErrInvalid)
	}
	for _, fragment := range c.RedactedValues {
		if strings.TrimSpace(fragment) == "" {
			return fmt.Errorf("%w: redactedValues must not contain blank entries", ErrInvalid)
		}
	}

	switch c.Storage.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("%w: storage.driver must be postgres or sqlite3, got %q",
			ErrInvalid, c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("%w: storage.dsn is required", ErrInvalid)
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("%w: archive.bucket is required when archiving is enabled", ErrInvalid)
	}

	return nil
}

// RetentionPolicy converts the deletion configuration into the engine's
// tagged policy variant.
func (c *Config) RetentionPolicy() audit.RetentionPolicy {
	if !c.Deletion.Enabled {
		return audit.RetentionPolicy{Mode: audit.RetentionDisabled}
	}
	if c.Deletion.Frequency == FrequencyLogCount {
		return audit.RetentionPolicy{
			Mode:  audit.RetentionByCount,
			Value: c.Deletion.Options.Value,
		}
	}
	return audit.RetentionPolicy{
		Mode:     audit.RetentionByAge,
		Value:    c.Deletion.Options.Value,
		Interval: audit.Interval(c.Deletion.Options.Interval),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
