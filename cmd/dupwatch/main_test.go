package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withConfigFile points --config at path so the user's real config is never read.
func withConfigFile(t *testing.T, path string) *cobra.Command {
	t.Helper()
	root := newRootCmd()
	require.NoError(t, root.PersistentFlags().Set("config", path))
	return root
}

func TestLoadConfigDefaults(t *testing.T) {
	root := withConfigFile(t, filepath.Join(t.TempDir(), "missing.json"))
	dataDir := t.TempDir()
	require.NoError(t, root.PersistentFlags().Set("data-dir", dataDir))

	cfg, err := loadConfig(root)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "catalog.db"), cfg.CatalogPath)
	assert.Equal(t, filepath.Join(dataDir, "logs", "dupwatch.log"), cfg.LogFile)
	assert.Equal(t, "notify", cfg.EventSource)
	assert.Equal(t, "prompt", cfg.ConflictMode)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 3, cfg.HashRetries)
}

func TestLoadConfigEnv(t *testing.T) {
	dataDir := t.TempDir()
	watchDir := t.TempDir()
	t.Setenv("DUPWATCH_DATA_DIR", dataDir)
	t.Setenv("DUPWATCH_WATCH_DIR", watchDir)
	t.Setenv("DUPWATCH_CONFLICT_MODE", "delete")
	t.Setenv("DUPWATCH_EVENT_SOURCE", "poll")
	t.Setenv("DUPWATCH_TICK_INTERVAL", "250ms")
	t.Setenv("DUPWATCH_RECURSIVE", "true")

	root := withConfigFile(t, filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := loadConfig(root)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, watchDir, cfg.WatchDir)
	assert.Equal(t, "delete", cfg.ConflictMode)
	assert.Equal(t, "poll", cfg.EventSource)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.True(t, cfg.Recursive)
	require.NoError(t, cfg.CheckWatchDir())
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	watchDir := filepath.Join(dir, "downloads")
	configFile := filepath.Join(dir, "config.json")

	dummyConfig := `{
	"watch_dir": "` + filepath.ToSlash(watchDir) + `",
	"data_dir": "` + filepath.ToSlash(dataDir) + `",
	"conflict_mode": "keep",
	"poll_interval": "5s",
	"hash_retries": 7,
	"ignore": ["*.part", "private/"]
}`
	require.NoError(t, os.WriteFile(configFile, []byte(dummyConfig), 0o644))

	root := withConfigFile(t, configFile)
	cfg, err := loadConfig(root)
	require.NoError(t, err)

	assert.Equal(t, configFile, cfg.Path)
	assert.Equal(t, filepath.Clean(watchDir), cfg.WatchDir)
	assert.Equal(t, filepath.Clean(dataDir), cfg.DataDir)
	assert.Equal(t, "keep", cfg.ConflictMode)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 7, cfg.HashRetries)
	assert.Equal(t, []string{"*.part", "private/"}, cfg.Ignore)
}

func TestLoadConfigFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configFile, []byte(`{"conflict_mode": "keep", "data_dir": "`+filepath.ToSlash(dir)+`"}`), 0o644))

	root := withConfigFile(t, configFile)
	require.NoError(t, root.Flags().Set("conflict", "delete"))

	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, "delete", cfg.ConflictMode)
}

func TestLoadConfigInvalid(t *testing.T) {
	root := withConfigFile(t, filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, root.Flags().Set("conflict", "shred"))

	_, err := loadConfig(root)
	require.Error(t, err)
}

func TestLoadConfigBrokenFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configFile, []byte(`{not json`), 0o644))

	root := withConfigFile(t, configFile)
	_, err := loadConfig(root)
	require.Error(t, err)
}
