// Package container provides dependency injection and lifecycle management
// for the VAT compliance service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Redis configuration; an empty address keeps locks and counters in process
	Redis RedisConfig

	// OpenAI advisory configuration
	OpenAI OpenAIConfig

	// RulesPath is the optional YAML file with rule catalog overrides
	RulesPath string

	RateLimit   RateLimitConfig
	Detection   DetectionConfig
	Remediation RemediationConfig
	Savings     SavingsConfig
	Health      HealthConfig

	// Server configuration
	Server ServerConfig

	// Worker configuration
	Worker WorkerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a writer waits on a locked database
	BusyTimeout time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// OpenAIConfig holds advisory service settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key; empty disables advisory calls
	APIKey string

	// BaseURL overrides the API endpoint for compatible providers
	BaseURL string

	// Model is the model to use (e.g., "gpt-4o-mini")
	Model string

	// PromptsPath is the YAML prompt file
	PromptsPath string

	// Timeout bounds one advisory pass including retries
	Timeout time.Duration

	// MaxRetries after the first attempt on quota errors
	MaxRetries int
}

// RateLimitConfig holds request limits for detect and fix endpoints.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// DetectionConfig holds detector settings.
type DetectionConfig struct {
	Concurrency    int
	LockTTL        time.Duration
	LockRetryAfter time.Duration
}

// RemediationConfig holds the labor model and bulk limits.
type RemediationConfig struct {
	LaborMinutesPerFix int
	HourlyRate         float64
	BulkConcurrency    int
	MaxBulkSize        int
}

// SavingsConfig holds the ROI cost basis.
type SavingsConfig struct {
	ServiceCostPerPeriod float64
}

// HealthConfig holds health score caching settings.
type HealthConfig struct {
	CacheTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Enabled        bool
	PollInterval   time.Duration
	BatchSize      int
	ProcessTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/vat_compliance.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			BusyTimeout:     5 * time.Second,
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			PromptsPath: "configs/prompts.yaml",
			Timeout:     20 * time.Second,
			MaxRetries:  2,
		},
		RulesPath: "configs/rules.yaml",
		RateLimit: RateLimitConfig{
			Limit:  60,
			Window: time.Minute,
		},
		Detection: DetectionConfig{
			Concurrency:    8,
			LockTTL:        2 * time.Minute,
			LockRetryAfter: 5 * time.Second,
		},
		Remediation: RemediationConfig{
			LaborMinutesPerFix: 15,
			HourlyRate:         60,
			BulkConcurrency:    8,
			MaxBulkSize:        500,
		},
		Health: HealthConfig{
			CacheTTL: 30 * time.Second,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			Enabled:        true,
			PollInterval:   5 * time.Second,
			BatchSize:      5,
			ProcessTimeout: 2 * time.Minute,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Remediation.HourlyRate < 0 {
		return fmt.Errorf("remediation.hourly_rate must not be negative")
	}
	if c.Savings.ServiceCostPerPeriod < 0 {
		return fmt.Errorf("savings.service_cost_per_period must not be negative")
	}
	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must not be negative")
	}
	return nil
}
