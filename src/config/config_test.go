package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.Nil(t, err)

	assert.Equal(t, int64(5*1024*1024), cfg.Uploads.PartSize)
	assert.Equal(t, 10000, cfg.Uploads.MaxParts)
	assert.Equal(t, 24*time.Hour, cfg.Uploads.SessionTTL)
	assert.Equal(t, "preview", cfg.Queue.WorkQueue)
	assert.Equal(t, "preview:dlq", cfg.Queue.DeadLetterQueue)
	assert.Equal(t, 5*time.Second, cfg.Worker.DequeueTimeout)
	assert.Equal(t, UnsupportedSkip, cfg.Worker.UnsupportedMime)
	assert.True(t, cfg.Reaper.AbortRemote)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, tracelog.LogLevelWarn, cfg.Postgres.LogLevel)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assetpipe.yaml")
	err := os.WriteFile(path, []byte(`
loglevel: debug
storage:
  backend: minio
  bucket: renders
worker:
  unsupportedmime: deadletter
`), 0o644)
	require.Nil(t, err)

	t.Setenv("ASSETPIPE_STORAGE_BUCKET", "from-env")
	t.Setenv("ASSETPIPE_REAPER_ABORTREMOTE", "false")

	cfg, err := Load(viper.New(), path)
	require.Nil(t, err)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, StorageMinio, cfg.Storage.Backend)
	assert.Equal(t, "from-env", cfg.Storage.Bucket)
	assert.Equal(t, UnsupportedDeadLetter, cfg.Worker.UnsupportedMime)
	assert.False(t, cfg.Reaper.AbortRemote)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ASSETPIPE_QUEUE_BACKEND", "carrier-pigeon")
	_, err := Load(viper.New(), "")
	assert.NotNil(t, err)
}
