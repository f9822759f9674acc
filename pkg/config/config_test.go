package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RunTimeout)
	assert.Equal(t, "@every 30s", cfg.Optimizer.PollSpec)
	assert.False(t, cfg.Optimizer.Enabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SCHEDULER_WORKERS", "0")
	t.Setenv("SCHEDULER_RUN_TIMEOUT", "not-a-duration")
	t.Setenv("OPTIMIZER_BASE_URL", "http://optimizer:8000")
	t.Setenv("OPTIMIZER_TIMEOUT", "3s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Scheduler.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RunTimeout)
	assert.True(t, cfg.Optimizer.Enabled())
	assert.Equal(t, 3*time.Second, cfg.Optimizer.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
