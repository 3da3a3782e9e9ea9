package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/internal/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "httpkv", cfg.Backend.Type)
	assert.Equal(t, bytesize.ByteSize(128*bytesize.MiB), cfg.Spool.ArenaSize)
	assert.Equal(t, 4, cfg.Spool.CompressionWorkers)
	assert.Equal(t, 8, cfg.Spool.UploadWorkers)
	assert.Equal(t, "P", cfg.Spool.ChunkSuffix)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
spool:
  staging_dir: /var/spool/driftfs
  arena_size: 64Mi
  compression_workers: 2
  upload_workers: 16
  critical_paths:
    - .driftpublished
backend:
  type: httpkv
  httpkv:
    endpoints:
      - http://kv-0:8098
      - http://kv-1:8098
    bucket: objects
    timeout: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/spool/driftfs", cfg.Spool.StagingDir)
	assert.Equal(t, bytesize.ByteSize(64*bytesize.MiB), cfg.Spool.ArenaSize)
	assert.Equal(t, 2, cfg.Spool.CompressionWorkers)
	assert.Equal(t, 16, cfg.Spool.UploadWorkers)
	assert.Equal(t, []string{".driftpublished"}, cfg.Spool.CriticalPaths)
	assert.Equal(t, []string{"http://kv-0:8098", "http://kv-1:8098"}, cfg.Backend.HTTPKV.Endpoints)
	assert.Equal(t, "objects", cfg.Backend.HTTPKV.Bucket)
	assert.Equal(t, 2*time.Minute, cfg.Backend.HTTPKV.Timeout)

	// Unset fields still get defaults.
	assert.Equal(t, 128, cfg.Spool.QueueSize)
	assert.Equal(t, "P", cfg.Spool.ChunkSuffix)
}

func TestLoadRejectsInvalidLevel(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: verbose
backend:
  type: httpkv
  httpkv:
    endpoints: [http://kv-0:8098]
    bucket: objects
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Logging.Level")
}

func TestLoadRejectsUnknownBackendType(t *testing.T) {
	path := writeConfig(t, `
backend:
  type: carrier-pigeon
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateHTTPKVRequiresEndpoints(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backend.HTTPKV.Endpoints = nil
	require.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.Backend.HTTPKV.Endpoints = []string{"not a url"}
	require.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.Backend.HTTPKV.Bucket = ""
	require.Error(t, Validate(cfg))
}

func TestValidateS3RequiresBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backend.Type = "s3"
	cfg.Backend.S3.Bucket = ""
	require.Error(t, Validate(cfg))

	cfg.Backend.S3.Bucket = "objects"
	require.NoError(t, Validate(cfg))
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Spool.StagingDir = "/var/spool/driftfs"
	cfg.Backend.HTTPKV.Bucket = "objects"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Spool.StagingDir, loaded.Spool.StagingDir)
	assert.Equal(t, cfg.Backend.HTTPKV.Bucket, loaded.Backend.HTTPKV.Bucket)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
backend:
  type: httpkv
  httpkv:
    endpoints: [http://kv-0:8098]
    bucket: objects
`)

	stop := make(chan struct{})
	defer close(stop)

	reloaded := make(chan *Config, 1)
	require.NoError(t, Watch(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, stop))

	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
backend:
  type: httpkv
  httpkv:
    endpoints: [http://kv-0:8098]
    bucket: objects
`), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "DEBUG", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}
