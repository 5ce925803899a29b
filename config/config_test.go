package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "taskengine", cfg.Metrics.Namespace)
}

// TestParse_OverridesDefaults verifies file values replace defaults and unset keys keep them
// Given: A TOML document setting workers, the priority queue and the metrics section
// When: It is parsed
// Then: The set values win, durations decode from strings, the rest stays default
func TestParse_OverridesDefaults(t *testing.T) {
	// Arrange
	doc := `
name = "entities"
workers = 8
priority_queue = true
shutdown_timeout = "10s"

[metrics]
enabled = true
poll_interval = "250ms"
`

	// Act
	cfg, err := Parse(doc)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "entities", cfg.Name)
	assert.Equal(t, 8, cfg.Workers)
	assert.True(t, cfg.PriorityQueue)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Metrics.PollInterval)
	assert.Equal(t, 100, cfg.HistoryCapacity)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "syntax", doc: "workers = "},
		{name: "zero workers", doc: "workers = 0"},
		{name: "negative history", doc: "history_capacity = -1"},
		{name: "bad poll interval", doc: "[metrics]\nenabled = true\npoll_interval = \"0s\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.doc)
			assert.Error(t, err)
		})
	}
}

// TestApplyEnv verifies environment variables take precedence over the file
func TestApplyEnv(t *testing.T) {
	// Arrange
	cfg := Default()

	// Act
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvName:          "from-env",
		EnvWorkers:       " 3 ",
		EnvHistory:       "7",
		EnvPriorityQueue: "true",
		EnvLogLevel:      "debug",
	}))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 7, cfg.HistoryCapacity)
	assert.True(t, cfg.PriorityQueue)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnv_RejectsMalformedValues(t *testing.T) {
	for _, key := range []string{EnvWorkers, EnvHistory, EnvPriorityQueue} {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(envMap(map[string]string{key: "lots"}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

// TestLoad_FileAndEnvironment verifies the full load order
// Given: A config file with workers = 2 and TASKENGINE_WORKERS=6 in the environment
// When: Load reads the file
// Then: The environment wins and the file's other keys survive
func TestLoad_FileAndEnvironment(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"file\"\nworkers = 2\n"), 0o600))
	t.Setenv(EnvWorkers, "6")

	// Act
	cfg, err := Load(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Name)
	assert.Equal(t, 6, cfg.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
