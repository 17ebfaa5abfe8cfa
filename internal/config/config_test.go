package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/stepwise"
)

var settings = []string{
	"STEPWISE_ENV", "STEPWISE_LOG_LEVEL", "STEPWISE_MAX_CONCURRENT_RUNS", "STEPWISE_SCHEDULING",
	"STEPWISE_PLAN_CACHE_TTL", "STEPWISE_PLAN_CACHE_FILE", "STEPWISE_EVENT_BUS_ENABLED", "STEPWISE_EVENT_BUS_BUFFER_SIZE",
	"STEPWISE_EVENT_BUS_WORKERS",
}

// clearEnv unsets every setting for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range settings {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)

	rc, err := cfg.Runtime()
	require.NoError(t, err)
	assert.Equal(t, stepwise.DefaultConfig(), rc)
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STEPWISE_MAX_CONCURRENT_RUNS", "8")
	t.Setenv("STEPWISE_SCHEDULING", "depends_on")
	t.Setenv("STEPWISE_PLAN_CACHE_TTL", "90s")
	t.Setenv("STEPWISE_EVENT_BUS_ENABLED", "true")
	t.Setenv("STEPWISE_PLAN_CACHE_FILE", "/var/cache/stepwise/plans.json")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	rc, err := cfg.Runtime()
	require.NoError(t, err)
	assert.Equal(t, 8, rc.MaxConcurrentRuns)
	assert.Equal(t, stepwise.ScheduleDependsOn, rc.Scheduling)
	assert.Equal(t, 90*time.Second, rc.PlanCacheTTL)
	assert.True(t, rc.EnableEventBus)
	assert.Equal(t, "/var/cache/stepwise/plans.json", rc.PlanCacheFile)
}

func TestLoad_DotenvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("STEPWISE_LOG_LEVEL=debug\nSTEPWISE_MAX_CONCURRENT_RUNS=2\n"), 0o600))
	t.Setenv("STEPWISE_MAX_CONCURRENT_RUNS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 3, cfg.Executor.MaxConcurrentRuns, "the environment wins over the file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"STEPWISE_SCHEDULING":          "random",
		"STEPWISE_MAX_CONCURRENT_RUNS": "0",
		"STEPWISE_PLAN_CACHE_TTL":      "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeConfiguration), "got %v", err)
		})
	}
}
