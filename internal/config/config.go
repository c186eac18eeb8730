package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Rules       RulesConfig       `mapstructure:"rules"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Detection   DetectionConfig   `mapstructure:"detection"`
	Remediation RemediationConfig `mapstructure:"remediation"`
	Savings     SavingsConfig     `mapstructure:"savings"`
	Health      HealthConfig      `mapstructure:"health"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// RedisConfig enables shared rate-limit counters and detection locks.
// An empty Addr keeps both in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OpenAIConfig holds advisory service configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	PromptsPath string        `mapstructure:"prompts_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// RulesConfig points at the rule catalog overrides
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// RateLimitConfig holds per-actor limits for the mutating endpoints
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// DetectionConfig holds detector settings
type DetectionConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	LockRetryAfter time.Duration `mapstructure:"lock_retry_after"`
}

// RemediationConfig holds the labor model and bulk limits
type RemediationConfig struct {
	LaborMinutesPerFix int     `mapstructure:"labor_minutes_per_fix"`
	HourlyRate         float64 `mapstructure:"hourly_rate"`
	BulkConcurrency    int     `mapstructure:"bulk_concurrency"`
	MaxBulkSize        int     `mapstructure:"max_bulk_size"`
}

// SavingsConfig holds the ROI cost basis
type SavingsConfig struct {
	ServiceCostPerPeriod float64 `mapstructure:"service_cost_per_period"`
}

// HealthConfig holds health score caching
type HealthConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// WorkerConfig holds detection worker configuration
type WorkerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads .env (if present), then the YAML file at configPath, then
// environment overrides. A missing config file falls back to defaults.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/vat_compliance.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.prompts_path", "configs/prompts.yaml")
	v.SetDefault("openai.timeout", 20*time.Second)
	v.SetDefault("openai.max_retries", 2)

	v.SetDefault("rules.path", "configs/rules.yaml")

	v.SetDefault("rate_limit.limit", 60)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("detection.concurrency", 8)
	v.SetDefault("detection.lock_ttl", 2*time.Minute)
	v.SetDefault("detection.lock_retry_after", 5*time.Second)

	v.SetDefault("remediation.labor_minutes_per_fix", 15)
	v.SetDefault("remediation.hourly_rate", 60.0)
	v.SetDefault("remediation.bulk_concurrency", 8)
	v.SetDefault("remediation.max_bulk_size", 500)

	v.SetDefault("savings.service_cost_per_period", 0.0)

	v.SetDefault("health.cache_ttl", 30*time.Second)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.batch_size", 5)
	v.SetDefault("worker.process_timeout", 2*time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds credentials that never live in the YAML file
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must not be negative")
	}
	if c.Remediation.HourlyRate < 0 {
		return fmt.Errorf("remediation.hourly_rate must not be negative")
	}
	if c.Remediation.LaborMinutesPerFix < 0 {
		return fmt.Errorf("remediation.labor_minutes_per_fix must not be negative")
	}
	if c.Savings.ServiceCostPerPeriod < 0 {
		return fmt.Errorf("savings.service_cost_per_period must not be negative")
	}
	if c.Remediation.MaxBulkSize <= 0 {
		return fmt.Errorf("remediation.max_bulk_size must be positive")
	}
	return nil
}
