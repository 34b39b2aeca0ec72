// Package config provides centralized configuration management.
//
// Process-level settings come from environment variables with defaults and
// are validated on startup to fail fast on misconfiguration. Per-project
// import definitions (target database, tables, schedules) live in YAML files
// loaded separately; see project.go.
package config

import (
	"fmt"
	"time"
)

// Config holds all process-level configuration.
type Config struct {
	Server     ServerConfig
	Management ManagementConfig
	Import     ImportConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing the response (default: 10m,
	// long enough for a synchronous import request)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"10m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// ManagementConfig holds settings for the management database, the fixed
// metadata store that records projects, jobs, and per-file outcomes. This is
// the only pooled endpoint; import targets are always direct connections.
type ManagementConfig struct {
	// URL is the management PostgreSQL connection string (required)
	URL string `env:"MANAGEMENT_DATABASE_URL" envAlt:"DATABASE_URL" required:"true"`

	// MaxConns is the maximum number of pooled connections (default: 10)
	MaxConns int `env:"DB_POOL_MAX_CONN" default:"10"`

	// MinConns is the minimum number of pooled connections (default: 1)
	MinConns int `env:"DB_POOL_MIN_CONN" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a pooled connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_POOL_MAX_CONN_LIFETIME" default:"1h"`

	// AcquireTimeout is how long Acquire waits for a free connection before
	// reporting the pool as busy (default: 10s)
	AcquireTimeout time.Duration `env:"DB_POOL_ACQUIRE_TIMEOUT" default:"10s"`
}

// ImportConfig holds defaults for the import engine.
type ImportConfig struct {
	// ChunkSize is the number of rows streamed per bulk-load chunk (default: 10000)
	ChunkSize int `env:"CSV_CHUNK_SIZE" default:"10000"`

	// MaxConcurrent is the maximum number of parallel imports (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// ProjectDir is the directory holding per-project YAML files (default: ./projects)
	ProjectDir string `env:"IMPORT_PROJECT_DIR" default:"./projects"`

	// DropDir is the directory scanned for incoming files (default: ./incoming)
	DropDir string `env:"IMPORT_DROP_DIR" default:"./incoming"`
}

// SecurityConfig holds API authentication settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key validation on the API (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the output format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the host:port string for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
