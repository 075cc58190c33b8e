package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellquest/telemetry/pkg/observability"
	"github.com/shellquest/telemetry/pkg/storage"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, storage.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 50, cfg.Engine.BufferSize)
	assert.Equal(t, 5*time.Minute, cfg.Engine.FlushInterval)
	assert.Equal(t, 90, cfg.Engine.RetentionDays)
	assert.False(t, cfg.Engine.ArchiveEnabled)
	assert.Equal(t, "0 3 * * *", cfg.Cleanup.Schedule)
	assert.Equal(t, observability.InfoLevel, cfg.LogLevel())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SHELLQUEST_STORAGE_DRIVER", "postgres")
	t.Setenv("SHELLQUEST_STORAGE_DSN", "postgres://localhost/telemetry")
	t.Setenv("SHELLQUEST_BUFFER_SIZE", "25")
	t.Setenv("SHELLQUEST_FLUSH_INTERVAL", "90s")
	t.Setenv("SHELLQUEST_RETENTION_DAYS", "30")
	t.Setenv("SHELLQUEST_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, storage.DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/telemetry", cfg.Storage.DSN)
	assert.Equal(t, 25, cfg.Engine.BufferSize)
	assert.Equal(t, 90*time.Second, cfg.Engine.FlushInterval)
	assert.Equal(t, 30, cfg.Engine.RetentionDays)
	assert.Equal(t, observability.DebugLevel, cfg.LogLevel())
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("SHELLQUEST_STORAGE_DRIVER", "mongodb")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid storage driver")
}

func TestValidateRequiresBucketWhenArchiving(t *testing.T) {
	t.Setenv("SHELLQUEST_ARCHIVE_ENABLED", "true")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive bucket")
}

func TestValidateRejectsNonPositiveRetention(t *testing.T) {
	t.Setenv("SHELLQUEST_RETENTION_DAYS", "0")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention days")
}

func TestMergeFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  buffer_size: 10
  retention_days: 14
observability:
  log_level: warn
`), 0o600))

	t.Setenv("SHELLQUEST_CONFIG_FILE", path)
	t.Setenv("SHELLQUEST_BUFFER_SIZE", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	// The file wins over the environment, and untouched fields keep
	// their environment/default values.
	assert.Equal(t, 10, cfg.Engine.BufferSize)
	assert.Equal(t, 14, cfg.Engine.RetentionDays)
	assert.Equal(t, observability.WarnLevel, cfg.LogLevel())
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestMergeFileMissing(t *testing.T) {
	cfg := &Config{}
	err := cfg.MergeFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  buffer_size: 10\n"), 0o600))

	t.Setenv("SHELLQUEST_CONFIG_FILE", path)

	reloaded := make(chan *Config, 1)
	stop, err := Watch(path, observability.NopLogger(), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  buffer_size: 99\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 99, cfg.Engine.BufferSize)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload was not observed")
	}
}
