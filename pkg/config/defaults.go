package config

import (
	"strings"
	"time"

	"github.com/driftfs/driftfs/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applySpoolDefaults(&cfg.Spool)
	applyBackendDefaults(&cfg.Backend)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applySpoolDefaults(cfg *SpoolConfig) {
	// StagingDir defaults to the OS temp dir inside the spooler itself.
	if cfg.ArenaSize == 0 {
		cfg.ArenaSize = bytesize.ByteSize(128 * bytesize.MiB)
	}
	if cfg.CompressionWorkers == 0 {
		cfg.CompressionWorkers = 4
	}
	if cfg.UploadWorkers == 0 {
		cfg.UploadWorkers = 8
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 128
	}
	if cfg.ChunkSuffix == "" {
		cfg.ChunkSuffix = "P"
	}
}

func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "httpkv"
	}
	if cfg.HTTPKV.Timeout == 0 {
		cfg.HTTPKV.Timeout = 5 * time.Minute
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for generating sample configuration files, testing and
// documentation.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Backend: BackendConfig{
			Type: "httpkv",
			HTTPKV: HTTPKVConfig{
				Endpoints: []string{"http://localhost:8098"},
				Bucket:    "driftfs",
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
