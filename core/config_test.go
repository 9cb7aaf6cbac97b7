package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
	assert.Equal(t, 30*time.Second, cfg.Gemini.Timeout)
	assert.Equal(t, 10000, cfg.Planning.MaxGoalLength)
	assert.Equal(t, 300*time.Second, cfg.Planning.PlanTimeout)
	assert.Equal(t, 10, cfg.Executor.MaxParallelTasks)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadFromFile_OverlaysOnlyPresentFields(t *testing.T) {
	cfg := DefaultConfig()

	dir := t.TempDir()
	path := filepath.Join(dir, "taskgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  max_parallel_tasks: 4\ngemini:\n  model: gemini-2.5-pro\n"), 0o644))

	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 4, cfg.Executor.MaxParallelTasks)
	assert.Equal(t, "gemini-2.5-pro", cfg.Gemini.Model)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10000, cfg.Planning.MaxGoalLength)
}

func TestLoadFromFile_MissingPathIsNotAnError(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Executor.MaxParallelTasks)
}

func TestLoadFromFile_RejectsMalformedYAML(t *testing.T) {
	cfg := DefaultConfig()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	err := cfg.LoadFromFile(path)
	require.Error(t, err)
}

func TestLoadFromEnv_OverridesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv(EnvMaxParallelTasks, "7")
	t.Setenv(EnvGeminiModel, "gemini-2.5-pro")

	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 7, cfg.Executor.MaxParallelTasks)
	assert.Equal(t, "gemini-2.5-pro", cfg.Gemini.Model)
}

func TestLoadFromEnv_RejectsInvalidMaxParallelTasks(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv(EnvMaxParallelTasks, "0")

	err := cfg.LoadFromEnv()
	require.Error(t, err)
}

func TestValidate_RejectsNonPositiveMaxGoalLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Planning.MaxGoalLength = 0
	require.Error(t, cfg.Validate())
}

func TestNewConfig_AppliesOptionsAfterFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  max_parallel_tasks: 4\n"), 0o644))
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvMaxParallelTasks, "6")

	cfg, err := NewConfig(WithMaxParallelTasks(9))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Executor.MaxParallelTasks, "functional options take priority over file and env")
}
