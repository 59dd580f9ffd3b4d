// Package config provides centralized configuration management for the
// provisioning tools.
//
// Settings are layered, later layers winning:
//
//  1. struct tag defaults
//  2. an optional TOML file named by PROVISION_CONFIG_FILE
//  3. environment variables
//
// Everything is validated on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment is the deployment stage: dev, staging, or prod (default: dev)
	Environment string `env:"PROVISION_ENV" default:"dev" toml:"environment"`

	API      APIConfig      `toml:"api"`
	Run      RunConfig      `toml:"run"`
	Logging  LoggingConfig  `toml:"logging"`
	Database DatabaseConfig `toml:"database"`
	Archive  ArchiveConfig  `toml:"archive"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
}

// APIConfig holds provisioning API connection settings.
type APIConfig struct {
	// BaseURL is the root of the provisioning API, e.g. https://api.example.com
	BaseURL string `env:"PROVISION_API_BASE_URL" required:"true" toml:"base_url"`

	// Token is the bearer credential
	Token string `env:"PROVISION_API_TOKEN" required:"true" toml:"token"`

	// Timeout bounds each HTTP request (default: 30s)
	Timeout time.Duration `env:"PROVISION_API_TIMEOUT" default:"30s" toml:"timeout"`

	// MaxRetries is how many extra attempts a GET or PUT gets on 5xx or
	// transport errors (default: 3)
	MaxRetries int `env:"PROVISION_API_MAX_RETRIES" default:"3" toml:"max_retries"`

	// RetryBackoff is the first retry delay; it doubles per attempt (default: 500ms)
	RetryBackoff time.Duration `env:"PROVISION_API_RETRY_BACKOFF" default:"500ms" toml:"retry_backoff"`
}

// RunConfig holds pipeline settings.
type RunConfig struct {
	// InputDir holds site.json and the entity CSVs (default: input)
	InputDir string `env:"PROVISION_INPUT_DIR" default:"input" toml:"input_dir"`

	// OutputDir receives the logs and checkpoint (default: output)
	OutputDir string `env:"PROVISION_OUTPUT_DIR" default:"output" toml:"output_dir"`

	// BatchSize is rows per batch (default: 50)
	BatchSize int `env:"PROVISION_BATCH_SIZE" default:"50" toml:"batch_size"`

	// MaxRows caps rows processed per entity kind (default: 100000)
	MaxRows int `env:"PROVISION_MAX_ROWS" default:"100000" toml:"max_rows"`

	// WriteSafeCompensation enables compensation for multi-step writes
	// (default: false)
	WriteSafeCompensation bool `env:"PROVISION_WRITE_SAFE_COMPENSATION" default:"false" toml:"write_safe_compensation"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info" toml:"level"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text" toml:"format"`
}

// DatabaseConfig holds the optional run-history database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string; empty disables run history.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" toml:"url"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4" toml:"max_conns"`

	// ConnectTimeout bounds the initial ping (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s" toml:"connect_timeout"`
}

// Enabled reports whether run history should be recorded.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// ArchiveConfig holds settings for copying run outputs to object storage.
type ArchiveConfig struct {
	// Enabled turns on archiving after each run (default: false)
	Enabled bool `env:"ARCHIVE_ENABLED" default:"false" toml:"enabled"`

	// Endpoint is the S3-compatible host:port
	Endpoint string `env:"ARCHIVE_ENDPOINT" toml:"endpoint"`

	AccessKey string `env:"ARCHIVE_ACCESS_KEY" toml:"access_key"`
	SecretKey string `env:"ARCHIVE_SECRET_KEY" toml:"secret_key"`

	// Bucket receives the objects (default: provisioning-runs)
	Bucket string `env:"ARCHIVE_BUCKET" default:"provisioning-runs" toml:"bucket"`

	// Region is used when the bucket has to be created (default: us-east-1)
	Region string `env:"ARCHIVE_REGION" default:"us-east-1" toml:"region"`

	// UseSSL selects https (default: true)
	UseSSL bool `env:"ARCHIVE_USE_SSL" default:"true" toml:"use_ssl"`

	// Prefix is prepended to every object key (default: runs)
	Prefix string `env:"ARCHIVE_PREFIX" default:"runs" toml:"prefix"`

	// Timeout bounds the whole upload (default: 2m)
	Timeout time.Duration `env:"ARCHIVE_TIMEOUT" default:"2m" toml:"timeout"`
}

// SandboxConfig holds settings for the local sandbox API.
type SandboxConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SANDBOX_HOST" default:"127.0.0.1" toml:"host"`

	// Port is the port to listen on (default: 8089)
	Port int `env:"SANDBOX_PORT" default:"8089" toml:"port"`

	// Token is the bearer token the sandbox accepts
	Token string `env:"SANDBOX_TOKEN" default:"sandbox-token" toml:"token"`

	// Faults is a comma-separated list of key=status pairs, e.g.
	// "ana@example.com=503,Lobby=403"
	Faults []string `env:"SANDBOX_FAULTS" toml:"faults"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 10s)
	ShutdownTimeout time.Duration `env:"SANDBOX_SHUTDOWN_TIMEOUT" default:"10s" toml:"shutdown_timeout"`
}

// Addr returns the listen address in host:port format.
func (c *SandboxConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
