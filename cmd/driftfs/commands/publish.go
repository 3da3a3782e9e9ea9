package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/spool"
)

var publishMove bool

var publishCmd = &cobra.Command{
	Use:   "publish <manifest.yaml>",
	Short: "Publish a manifest of local files to the backend cluster",
	Long: `Publish pushes every entry of a manifest file through the upload
pipeline: plain copies go straight to the upload stage, processed files
and chunks are compressed and content-hashed first.

The command blocks until every upload has a terminal result and exits
non-zero when any job failed.

Examples:
  # Publish with default config location
  driftfs publish manifest.yaml

  # Publish with custom config
  driftfs publish --config /etc/driftfs/config.yaml manifest.yaml

  # Use environment variables to override config
  DRIFTFS_LOGGING_LEVEL=DEBUG driftfs publish manifest.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishMove, "move", false, "Mark jobs as move operations (sources may be deleted by the caller after success)")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	manifest, err := LoadManifest(args[0])
	if err != nil {
		return err
	}

	// Cancellable context for the auxiliary servers; SIGINT/SIGTERM
	// aborts them while the pipeline drains.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	endpoints, err := buildEndpoints(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build backend endpoints: %w", err)
	}

	// Metrics (if enabled)
	var pipelineMetrics metrics.PipelineMetrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		pipelineMetrics = metrics.New(reg)
		metricsServer := metrics.NewServer(cfg.Metrics.Port, reg)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	spooler, err := spool.New(spool.Config{
		StagingDir:         cfg.Spool.StagingDir,
		ArenaSize:          int(cfg.Spool.ArenaSize),
		CompressionWorkers: cfg.Spool.CompressionWorkers,
		UploadWorkers:      cfg.Spool.UploadWorkers,
		QueueSize:          cfg.Spool.QueueSize,
		ChunkSuffix:        cfg.Spool.ChunkSuffix,
		CriticalPaths:      cfg.Spool.CriticalPaths,
		Metrics:            pipelineMetrics,
	}, endpoints)
	if err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	spooler.SetMoveMode(publishMove)

	// Status API (if enabled)
	if cfg.API.Enabled {
		apiServer := api.NewServer(api.Config{
			Port:         cfg.API.Port,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
		}, spooler)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("status server error", "error", err)
			}
		}()
		logger.Info("Status API enabled", "port", cfg.API.Port)
	}

	// Hot-reload the log level while a long publish runs.
	if configFile := GetConfigFile(); configFile != "" {
		stopWatch := make(chan struct{})
		defer close(stopWatch)
		err := config.Watch(configFile, func(next *config.Config) {
			if err := logger.SetLevel(next.Logging.Level); err != nil {
				logger.Warn("invalid log level in reloaded config", "level", next.Logging.Level)
			}
		}, stopWatch)
		if err != nil {
			logger.Warn("config watcher not started", "error", err)
		}
	}

	// Abort on signal: stop submitting, let in-flight jobs finish.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	aborted := make(chan struct{})
	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, draining pipeline")
			close(aborted)
		case <-ctx.Done():
		}
	}()

	submitted := submitManifest(spooler, manifest, aborted)
	spooler.EndOfTransaction()
	spooler.WaitForUpload()
	stats := spooler.Stats()
	spooler.WaitForTermination()
	cancel()

	fmt.Printf("Publish complete: %d entries, %d jobs, %d failed\n",
		len(manifest.Entries), submitted, stats.Errors)

	if errs := spooler.NumErrors(); errs > 0 {
		return fmt.Errorf("%d upload jobs failed", errs)
	}
	return nil
}

// submitManifest feeds every manifest entry into the pipeline and
// returns the number of jobs submitted. Results are consumed
// concurrently so submission is never blocked on delivery.
func submitManifest(spooler *spool.Spooler, manifest *Manifest, aborted <-chan struct{}) int {
	results := make([]<-chan spool.Result, 0, len(manifest.Entries))

	for _, entry := range manifest.Entries {
		select {
		case <-aborted:
			logger.Warn("publish aborted, skipping remaining entries")
			return drainResults(results)
		default:
		}

		switch entry.Op {
		case "copy":
			results = append(results, spooler.Copy(entry.Local, entry.Remote))

		case "process":
			results = append(results, spooler.Process(entry.Local, entry.Remote, entry.Suffix))

		case "chunk":
			chunks, err := chunkRanges(entry.Local, int64(entry.ChunkSize))
			if err != nil {
				logger.Error("cannot chunk file",
					logger.KeySource, entry.Local,
					logger.KeyError, err)
				continue
			}
			for _, r := range chunks {
				results = append(results, spooler.ProcessChunk(entry.Local, entry.Remote, r.offset, r.length))
			}
		}
	}

	return drainResults(results)
}

type byteRange struct {
	offset int64
	length int64
}

// chunkRanges splits the file at path into chunkSize-long ranges; the
// last range covers the remainder.
func chunkRanges(path string, chunkSize int64) ([]byteRange, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return []byteRange{{offset: 0, length: 0}}, nil
	}

	ranges := make([]byteRange, 0, (size+chunkSize-1)/chunkSize)
	for off := int64(0); off < size; off += chunkSize {
		length := chunkSize
		if off+length > size {
			length = size - off
		}
		ranges = append(ranges, byteRange{offset: off, length: length})
	}
	return ranges, nil
}

// drainResults collects every pending result, logging failures, and
// returns the total count.
func drainResults(results []<-chan spool.Result) int {
	for _, ch := range results {
		res := <-ch
		if !res.Ok() {
			logger.Error("upload failed",
				logger.KeySource, res.SourcePath,
				"code", res.Code,
				logger.KeyError, res.Err)
		}
	}
	return len(results)
}
