package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the orchestrator.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (work queue)
	Redis RedisConfig `yaml:"redis"`

	// Orchestrator background loop configuration
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"orchestrator"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"orchestrator"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection configuration for the work queue.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// Namespace prefixes every queue key so multiple deployments can share
	// one Redis.
	Namespace string `yaml:"namespace" env:"REDIS_NAMESPACE" env-default:"orchestrator"`
}

// OrchestratorConfig holds settings for the background maintenance loops.
type OrchestratorConfig struct {
	// SweepIntervalSeconds is how often the sweeper scans for overdue and
	// stuck-queued tasks.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" env:"SWEEP_INTERVAL_SECONDS" env-default:"10"`
	// QueuedRecoverySeconds is how long a task may sit in queued before the
	// sweeper assumes the publish was lost and republishes it.
	QueuedRecoverySeconds int `yaml:"queued_recovery_seconds" env:"QUEUED_RECOVERY_SECONDS" env-default:"60"`
	// RetentionIntervalHours is how often terminal workflows past retention
	// are deleted.
	RetentionIntervalHours int `yaml:"retention_interval_hours" env:"RETENTION_INTERVAL_HOURS" env-default:"24"`
	// ResultConsumers is the number of goroutines consuming executor
	// results.
	ResultConsumers int `yaml:"result_consumers" env:"RESULT_CONSUMERS" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable
// overrides, falling back to environment-only when the file is absent.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the host:port address of the Redis server.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
