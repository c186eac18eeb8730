package container

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.RulesPath = filepath.Join(t.TempDir(), "absent-rules.yaml")
	cfg.OpenAI.PromptsPath = ""
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Database.Path = ""
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, c.Ready())

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()), "double start")

	services := c.Services()
	require.NotNil(t, services)
	assert.NotNil(t, services.Upload)
	assert.NotNil(t, services.Detection)
	assert.NotNil(t, services.Remediation)
	assert.NotNil(t, services.Health)
	assert.NotNil(t, c.Limiter())
	assert.Equal(t, 2, c.Workers().GetWorkerCount(), "detection worker and rate limit sweeper")

	handlers := c.Dispatcher().ListHandlers("fix.applied")
	assert.Len(t, handlers, 2)

	healthy, components := c.CheckHealth(context.Background())
	assert.True(t, healthy)
	assert.Equal(t, "ok", components["database"])
	assert.NotContains(t, components, "redis")

	score, err := services.Health.Score(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 100, score.Score)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(context.Background()))
}

func TestContainer_WorkerDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Enabled = false

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.Equal(t, 1, c.Workers().GetWorkerCount())
}

func TestConvertToZapFields(t *testing.T) {
	fields := convertToZapFields("upload_id", "up-1", 42, "ignored", "error", errors.New("boom"), "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "upload_id", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
}
