package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "~/.config/thinkbrief", cfg.Storage.Path)
	assert.Equal(t, "thinkbrief.db", cfg.Storage.SQLiteFile)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "mirror.db", cfg.Cache.File)
	assert.Equal(t, 200, cfg.Cache.MaxRecords)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, int64(20971520), cfg.Server.MaxUploadBytes)
	assert.Equal(t, "http://localhost:5001", cfg.Identity.BaseURL)
	assert.Equal(t, 10, cfg.Identity.TimeoutSeconds)
	assert.Equal(t, "http://localhost:5005", cfg.Inference.BaseURL)
	assert.Equal(t, 120, cfg.Inference.TimeoutSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
storage:
  path: "/var/lib/thinkbrief"
cache:
  enabled: false
  max_records: 50
server:
  port: 9999
logging:
  level: "debug"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, "/var/lib/thinkbrief", cfg.Storage.Path)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 50, cfg.Cache.MaxRecords)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Non-overridden values remain defaults
	assert.Equal(t, "thinkbrief.db", cfg.Storage.SQLiteFile)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "http://localhost:5005", cfg.Inference.BaseURL)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte(":::not valid yaml{{{"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	_, err := Load("/tmp/nonexistent_path_12345/config.yaml")
	assert.Error(t, err)
}

func TestLoadOrCreateCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sub", "deep", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "~/.config/thinkbrief", cfg.Storage.Path)
	assert.Equal(t, 5000, cfg.Server.Port)

	// File should now exist on disk and load back identically.
	_, statErr := os.Stat(cfgPath)
	require.NoError(t, statErr)

	reloaded, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestDatabasePathJoinsStorage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = "/data/tb"

	path, err := cfg.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/tb", "thinkbrief.db"), path)

	cachePath, err := cfg.CachePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/tb", "mirror.db"), cachePath)
}
