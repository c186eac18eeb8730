package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 15, cfg.Remediation.LaborMinutesPerFix)
	assert.Equal(t, 60.0, cfg.Remediation.HourlyRate)
	assert.Equal(t, 500, cfg.Remediation.MaxBulkSize)
	assert.Equal(t, 2*time.Minute, cfg.Detection.LockTTL)
	assert.True(t, cfg.Worker.Enabled)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
rate_limit:
  limit: 10
  window: 30s
remediation:
  hourly_rate: 90
savings:
  service_cost_per_period: 250
worker:
  enabled: false
`)
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 90.0, cfg.Remediation.HourlyRate)
	assert.Equal(t, 250.0, cfg.Savings.ServiceCostPerPeriod)
	assert.False(t, cfg.Worker.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)

	cc := cfg.ToContainerConfig()
	assert.Equal(t, "redis:6379", cc.Redis.Addr)
	assert.True(t, cc.Redis.Enabled())
	assert.Equal(t, 10, cc.RateLimit.Limit)
	assert.Equal(t, "configs/rules.yaml", cc.RulesPath)
	require.NoError(t, cc.Validate())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad port", body: "server:\n  port: 70000\n"},
		{name: "negative rate", body: "remediation:\n  hourly_rate: -1\n"},
		{name: "negative cost", body: "savings:\n  service_cost_per_period: -5\n"},
		{name: "malformed yaml", body: "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
