package initialize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-stream/relaykit/hlsrelay/config"
)

func TestLoadOrCreateConfig(t *testing.T) {
	t.Parallel()

	t.Run("creates_new_config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")

		cfg, created, err := loadOrCreateConfig(path)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, config.Version, cfg.Version)
		assert.Equal(t, 200, cfg.Relay.MaxSessions)
	})

	t.Run("loads_existing_config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")

		existing := config.DefaultConfig("0.0.1")
		existing.Relay.MaxSessions = 64
		existing.History.Capacity = 16
		require.NoError(t, existing.Save(path))

		cfg, created, err := loadOrCreateConfig(path)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "0.0.1", cfg.Version)
		assert.Equal(t, 64, cfg.Relay.MaxSessions)
		assert.Equal(t, 16, cfg.History.Capacity)
	})

	t.Run("error_on_invalid_JSON", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")

		require.NoError(t, os.WriteFile(path, []byte("invalid"), 0644))

		_, _, err := loadOrCreateConfig(path)
		assert.Error(t, err)
	})
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("creates_config", func(t *testing.T) {
		dir := t.TempDir()

		require.NoError(t, run(dir, false))

		configPath := filepath.Join(dir, ".hlsrelay", "config.json")
		cfg, err := config.Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, config.Version, cfg.Version)
		assert.False(t, cfg.InitializedAt.IsZero())
		assert.Equal(t, 200, cfg.Relay.MaxSessions)
	})

	t.Run("rerun_preserves_edits", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, run(dir, false))

		configPath := filepath.Join(dir, ".hlsrelay", "config.json")
		cfg, err := config.Load(configPath)
		require.NoError(t, err)
		cfg.Relay.MaxSessions = 64
		require.NoError(t, cfg.Save(configPath))

		require.NoError(t, run(dir, false))

		cfg, err = config.Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 64, cfg.Relay.MaxSessions)
	})

	t.Run("reset_clears_directory", func(t *testing.T) {
		dir := t.TempDir()

		relayDir := filepath.Join(dir, ".hlsrelay")
		require.NoError(t, os.MkdirAll(relayDir, 0755))
		oldFile := filepath.Join(relayDir, "old-file.txt")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0644))

		require.NoError(t, run(dir, true))

		// Old file should be gone
		_, err := os.Stat(oldFile)
		assert.True(t, os.IsNotExist(err))

		// Fresh config should exist
		_, err = os.Stat(filepath.Join(relayDir, "config.json"))
		assert.NoError(t, err)
	})
}
