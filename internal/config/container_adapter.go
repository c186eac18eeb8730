package config

import (
	"github.com/garyjia/vat-compliance/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Redis: container.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:      c.OpenAI.APIKey,
			BaseURL:     c.OpenAI.BaseURL,
			Model:       c.OpenAI.Model,
			PromptsPath: c.OpenAI.PromptsPath,
			Timeout:     c.OpenAI.Timeout,
			MaxRetries:  c.OpenAI.MaxRetries,
		},
		RulesPath: c.Rules.Path,
		RateLimit: container.RateLimitConfig{
			Limit:  c.RateLimit.Limit,
			Window: c.RateLimit.Window,
		},
		Detection: container.DetectionConfig{
			Concurrency:    c.Detection.Concurrency,
			LockTTL:        c.Detection.LockTTL,
			LockRetryAfter: c.Detection.LockRetryAfter,
		},
		Remediation: container.RemediationConfig{
			LaborMinutesPerFix: c.Remediation.LaborMinutesPerFix,
			HourlyRate:         c.Remediation.HourlyRate,
			BulkConcurrency:    c.Remediation.BulkConcurrency,
			MaxBulkSize:        c.Remediation.MaxBulkSize,
		},
		Savings: container.SavingsConfig{
			ServiceCostPerPeriod: c.Savings.ServiceCostPerPeriod,
		},
		Health: container.HealthConfig{
			CacheTTL: c.Health.CacheTTL,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Worker: container.WorkerConfig{
			Enabled:        c.Worker.Enabled,
			PollInterval:   c.Worker.PollInterval,
			BatchSize:      c.Worker.BatchSize,
			ProcessTimeout: c.Worker.ProcessTimeout,
		},
	}
}
