// Package config loads QTask's runtime configuration from environment
// variables (optionally pre-seeded from a .env file and layered over an
// optional YAML file): typed getEnv* helpers with defaults, then a single
// Validate pass.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/clu-ai/qtask/internal/logging"
)

// RedisConfig is the connection surface streamclient.Dial needs.
type RedisConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
}

// FleetConfig resolves a process's static partition assignment (spec.md
// §5, "Assignment resolver").
type FleetConfig struct {
	InstanceID    int
	InstanceCount int
}

// LoggingConfig mirrors logging.Config's fields as plain env-sourced values.
type LoggingConfig struct {
	Level           string
	UseColors       bool
	TimestampFormat string
}

// Config holds every QTask runtime setting.
type Config struct {
	Environment string
	ServiceName string

	Redis           RedisConfig
	TotalPartitions int
	Fleet           FleetConfig
	Logging         LoggingConfig

	ConsumerIDBase  string
	BlockTimeoutMs  int
	ClaimIntervalMs int
	MinIdleTimeMs   int

	HealthPort  int
	MetricsPort int
}

// yamlOverrides is the subset of Config a YAML file may pre-seed, applied
// before the environment so the matching env var always wins (spec.md §6,
// "Configuration precedence").
type yamlOverrides struct {
	Environment     string `yaml:"environment"`
	ServiceName     string `yaml:"serviceName"`
	RedisHost       string `yaml:"redisHost"`
	RedisPort       int    `yaml:"redisPort"`
	TotalPartitions int    `yaml:"totalPartitions"`
	InstanceID      int    `yaml:"instanceId"`
	InstanceCount   int    `yaml:"instanceCount"`
	LogLevel        string `yaml:"logLevel"`
}

// Load loads configuration from environment variables, automatically
// applying a .env file if present, and an optional YAML file named by
// QTASK_CONFIG_FILE layered beneath it. Env vars always take precedence
// over the YAML layer.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var overrides yamlOverrides
	if path := os.Getenv("QTASK_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	cfg := &Config{
		Environment: getEnv("QTASK_ENVIRONMENT", orDefault(overrides.Environment, "development")),
		ServiceName: getEnv("QTASK_SERVICE_NAME", orDefault(overrides.ServiceName, "qtask")),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", orDefault(overrides.RedisHost, "localhost")),
			Port:     getEnvAsInt("REDIS_PORT", orDefaultInt(overrides.RedisPort, 6379)),
			Username: getEnv("REDIS_USERNAME", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		TotalPartitions: getEnvAsInt("TOTAL_PARTITIONS", orDefaultInt(overrides.TotalPartitions, 8)),
		Fleet: FleetConfig{
			InstanceID:    getEnvAsInt("INSTANCE_ID", orDefaultInt(overrides.InstanceID, 0)),
			InstanceCount: getEnvAsInt("INSTANCE_COUNT", orDefaultInt(overrides.InstanceCount, 1)),
		},
		Logging: LoggingConfig{
			Level:           getEnv("LOG_LEVEL", orDefault(overrides.LogLevel, "info")),
			UseColors:       getEnvAsBool("LOG_USE_COLORS", false),
			TimestampFormat: getEnv("LOG_TIMESTAMP_FORMAT", ""),
		},
		ConsumerIDBase:  getEnv("CONSUMER_ID_BASE", ""),
		BlockTimeoutMs:  getEnvAsInt("BLOCK_TIMEOUT_MS", 2000),
		ClaimIntervalMs: getEnvAsInt("CLAIM_INTERVAL_MS", 300000),
		MinIdleTimeMs:   getEnvAsInt("MIN_IDLE_TIME_MS", 60000),
		HealthPort:      getEnvAsInt("HEALTH_PORT", 8080),
		MetricsPort:     getEnvAsInt("METRICS_PORT", 9090),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate enforces the invariants spec.md §5/§6 require before a facade
// can be constructed from this config.
func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.TotalPartitions <= 0 {
		return fmt.Errorf("TOTAL_PARTITIONS must be positive, got %d", c.TotalPartitions)
	}
	if c.Fleet.InstanceCount <= 0 {
		return fmt.Errorf("INSTANCE_COUNT must be positive, got %d", c.Fleet.InstanceCount)
	}
	if c.Fleet.InstanceID < 0 || c.Fleet.InstanceID >= c.Fleet.InstanceCount {
		return fmt.Errorf("INSTANCE_ID (%d) must be in [0, %d)", c.Fleet.InstanceID, c.Fleet.InstanceCount)
	}
	return nil
}

// AsLoggingConfig builds the logging.Config this Config describes.
func (c *Config) AsLoggingConfig() logging.Config {
	return logging.Config{
		Level:           logging.LevelFromString(c.Logging.Level),
		ServiceName:     c.ServiceName,
		Environment:     c.Environment,
		UseColors:       c.Logging.UseColors,
		TimestampFormat: c.Logging.TimestampFormat,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}
