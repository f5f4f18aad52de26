// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with defaults, optionally
// overlays a YAML processing profile, and validates every setting on startup
// so misconfiguration fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Upload     UploadConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Processing ProcessingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"2m"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 2m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"2m"`
}

// StoreConfig selects and tunes the persistence backend for classification
// snapshots and column-mapping templates.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres (default: sqlite)
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `env:"SQLITE_PATH" default:"./data/doorgraph.db"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// SnapshotRetention is how many classification snapshot versions to keep (default: 50)
	SnapshotRetention int `env:"SNAPSHOT_RETENTION" default:"50"`

	// PruneInterval is how often old snapshot versions are removed (default: 1h)
	PruneInterval time.Duration `env:"SNAPSHOT_PRUNE_INTERVAL" default:"1h"`
}

// UploadConfig holds limits for event log uploads and pipeline runs.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 10MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10485760"`

	// MaxRows is the maximum number of data rows in one event log (default: 1,000,000)
	MaxRows int `env:"UPLOAD_MAX_ROWS" default:"1000000"`

	// AllowedExtensions lists accepted file extensions (default: .csv)
	AllowedExtensions []string `env:"UPLOAD_ALLOWED_EXTENSIONS" default:".csv"`

	// MaxConcurrent is the maximum number of pipeline runs in flight (default: 2)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single pipeline run (default: 90s)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"90s"`
}

// RateLimitConfig holds per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// RunLimit is requests per minute for the run endpoint (default: 10)
	RunLimit int `env:"RATE_LIMIT_RUNS" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key checks on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// ProcessingConfig tunes the onion model pipeline. Values may be overridden
// by the YAML profile named in ProfilePath.
type ProcessingConfig struct {
	// NumFloors bounds door floors to [1, NumFloors] (default: 1)
	NumFloors int `env:"ONION_NUM_FLOORS" default:"1" yaml:"num_floors" validate:"min=1,max=500"`

	// SessionIdleTimeout splits a user's events into sessions (default: 30m)
	SessionIdleTimeout time.Duration `env:"ONION_SESSION_IDLE_TIMEOUT" default:"30m" yaml:"session_idle_timeout" validate:"gt=0"`

	// TopDevices is the length of the most-active-devices ranking (default: 5)
	TopDevices int `env:"ONION_TOP_DEVICES" default:"5" yaml:"top_devices" validate:"min=1,max=100"`

	// GrantedPhrase marks a raw event string as a successful entry.
	GrantedPhrase string `env:"ONION_GRANTED_PHRASE" default:"ACCESS GRANTED" yaml:"granted_phrase" validate:"required"`

	// InvalidExact are raw event strings treated as denials when matched exactly.
	InvalidExact []string `env:"ONION_INVALID_EXACT" default:"INVALID ACCESS LEVEL" yaml:"invalid_exact"`

	// InvalidContains are substrings that mark a raw event string as a denial.
	InvalidContains []string `env:"ONION_INVALID_CONTAINS" default:"NO ENTRY MADE" yaml:"invalid_contains"`

	// DuplicateScanWindow collapses repeated scans at one door (default: 10s)
	DuplicateScanWindow time.Duration `env:"ONION_DUPLICATE_SCAN_WINDOW" default:"10s" yaml:"duplicate_scan_window" validate:"gte=0"`

	// ProfilePath optionally names a YAML file overriding the values above.
	ProfilePath string `env:"ONION_PROFILE_PATH" yaml:"-"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
