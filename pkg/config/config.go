// Package config loads varda-engine configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for varda-engine. Configuration can come
// from a YAML file (config.yaml) or environment variables; environment
// variables always override YAML values. Secrets (passwords, signing keys)
// must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"5000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// FilesDir is the directory holding uploaded data source files.
	FilesDir string `yaml:"files_dir" env:"FILES_DIR" env-default:"./files"`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

// AuthConfig holds token authentication configuration.
type AuthConfig struct {
	// TokenSecret signs bearer tokens. The server refuses to start
	// without it.
	TokenSecret string `yaml:"-" env:"TOKEN_SECRET"` // Secret - not in YAML

	// TokenTTL bounds token lifetime.
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"720h"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"varda"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"varda_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// URL renders the connection string.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// JobsConfig holds background job runner configuration.
type JobsConfig struct {
	// Workers bounds concurrent job execution.
	Workers int `yaml:"workers" env:"JOB_WORKERS" env-default:"2"`

	// StatusPollTimeout bounds how long a get/serialize request waits for
	// a job to reach a terminal state before reporting it as still
	// pending.
	StatusPollTimeout time.Duration `yaml:"status_poll_timeout" env:"JOB_STATUS_POLL_TIMEOUT" env-default:"3s"`
}

// Load reads configuration from config.yaml (if present) and the
// environment.
func Load(version string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Version = version

	if cfg.Auth.TokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET must be set")
	}

	return &cfg, nil
}
