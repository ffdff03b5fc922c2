package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelq/modelq/internal/task"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultBaseURL, cfg.Completion.BaseURL)
	assert.Equal(t, 30, cfg.Completion.TimeoutSeconds)
	assert.Equal(t, DefaultMaxAttempts, cfg.Completion.MaxAttempts)

	for _, spec := range task.Specializations() {
		pc, ok := cfg.Pools[string(spec)]
		require.True(t, ok, "missing pool config for %s", spec)
		assert.Equal(t, DefaultWorkers, pc.Workers)
		assert.Equal(t, DefaultQueueCapacity, pc.QueueCapacity)
		assert.NotEmpty(t, pc.Model)
		assert.NotEmpty(t, pc.SystemPrompt)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modelq.toml")
	content := `
[server]
addr = ":9090"

[completion]
timeout_seconds = 10
max_attempts = 2

[pools.analysis]
workers = 5
queue_capacity = 2
model = "google/gemini-flash-1.5:free"

[alert]
enabled = true
to_address = "oncall@example.com"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Completion.TimeoutSeconds)
	assert.Equal(t, 2, cfg.Completion.MaxAttempts)

	analysis := cfg.Pools[string(task.SpecAnalysis)]
	assert.Equal(t, 5, analysis.Workers)
	assert.Equal(t, 2, analysis.QueueCapacity)

	// untouched pools still receive defaults
	coding := cfg.Pools[string(task.SpecCoding)]
	assert.Equal(t, DefaultWorkers, coding.Workers)

	assert.True(t, cfg.Alert.Enabled)
	assert.Equal(t, "oncall@example.com", cfg.Alert.ToAddress)
	assert.Equal(t, 0.5, cfg.Alert.FailureRatio)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/modelq.toml")

	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("MODELQ_REDIS_ADDR", "localhost:6380")
	t.Setenv("MODELQ_POSTGRES_DSN", "postgres://test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-or-test", cfg.Completion.APIKey)
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
	assert.Equal(t, "postgres://test", cfg.Postgres.DSN)
}

func TestDefaultModelAndPrompt_UnknownSpecialization(t *testing.T) {
	assert.Equal(t, DefaultModel(task.SpecGeneral), DefaultModel("unknown"))
	assert.Equal(t, DefaultPrompt(task.SpecGeneral), DefaultPrompt("unknown"))
}
