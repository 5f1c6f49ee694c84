package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults with file and env overrides", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		path := filepath.Join(dir, "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"serverAddress": ":9000", "ordering": {"maxRetries": 3}}`), 0644))
		t.Setenv("CONFIG_PATH", path)
		t.Setenv("PHOTO_STORAGE_PATH", filepath.Join(dir, "photos"))
		t.Setenv("ORDERING_MAX_RETRIES", "7")
		t.Setenv("OTEL_ENABLED", "1")
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":9000", cfg.ServerAddress)
		assert.Equal(t, 7, cfg.Ordering.MaxRetries)
		assert.Equal(t, 20, cfg.Ordering.RetryBaseDelayMs)
		assert.Equal(t, "sqlite", cfg.Backend())
		assert.True(t, filepath.IsAbs(cfg.Storage.BasePath))
		assert.DirExists(t, cfg.Storage.BasePath)
		assert.True(t, cfg.Telemetry.Enabled)
		assert.Equal(t, 0.5, cfg.Telemetry.SampleRatio)
		assert.Equal(t, 30*time.Second, cfg.Telemetry.ExportInterval())
	})

	t.Run("reads .env", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.json"))
		// godotenv never overrides variables that are already set
		for _, key := range []string{"SERVER_ADDRESS", "PHOTO_STORAGE_PATH"} {
			t.Setenv(key, "")
			require.NoError(t, os.Unsetenv(key))
		}
		require.NoError(t, os.WriteFile(".env", []byte("SERVER_ADDRESS=:7777\nPHOTO_STORAGE_PATH="+filepath.Join(dir, "p")+"\n"), 0644))

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":7777", cfg.ServerAddress)
	})

	t.Run("rejects malformed file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		path := filepath.Join(dir, "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))
		t.Setenv("CONFIG_PATH", path)

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, defaultConfig().Validate())
	})

	t.Run("s3 requires bucket", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Storage.Backend = "s3"
		assert.ErrorContains(t, cfg.Validate(), "storage.bucket")
	})

	t.Run("retries must be positive", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Ordering.MaxRetries = 0
		assert.ErrorContains(t, cfg.Validate(), "maxRetries")
	})

	t.Run("partial oauth is rejected", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.OAuth.ClientID = "client"
		assert.ErrorContains(t, cfg.Validate(), "oauth")
	})

	t.Run("telemetry is checked only when enabled", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Telemetry.SampleRatio = 2
		assert.NoError(t, cfg.Validate())

		cfg.Telemetry.Enabled = true
		assert.ErrorContains(t, cfg.Validate(), "sampleRatio")

		cfg.Telemetry.SampleRatio = 0.25
		cfg.Telemetry.ExportIntervalSec = 0
		assert.ErrorContains(t, cfg.Validate(), "exportIntervalSec")
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.DatabaseBackend = "mongo"
		assert.Error(t, cfg.Validate())
	})
}

func TestBackend(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "sqlite", cfg.Backend())

	cfg.DatabaseBackend = "memory"
	assert.Equal(t, "memory", cfg.Backend())

	cfg.DatabaseURL = "postgres://localhost/gallery"
	assert.Equal(t, "postgres", cfg.Backend())
}
