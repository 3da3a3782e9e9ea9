// Package spool implements the content-addressed ingestion and upload
// pipeline: a compression/hash stage chained into an upload stage, both
// backed by independently sized worker pools and an arena allocator for
// in-flight buffers.
//
// Callers submit plain copies and chunk-processing requests through the
// Spooler facade and receive one Result per job on the channel returned
// at submission time. The pipeline performs at most one write attempt
// per job; retry and backoff policy belong to the caller.
package spool

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/arena"
	"github.com/driftfs/driftfs/pkg/backend"
	"github.com/driftfs/driftfs/pkg/metrics"
)

// Defaults for pool sizing. Both stages are I/O bound, so modest pools
// already saturate a typical backend cluster.
const (
	DefaultCompressionWorkers = 4
	DefaultUploadWorkers      = 8
	DefaultQueueSize          = 128

	// DefaultChunkSuffix marks content-addressed partial-file objects.
	DefaultChunkSuffix = "P"
)

// Config holds spooler construction parameters. The zero value is
// usable: every field has a default.
type Config struct {
	// StagingDir receives compressed temporaries; ideally fast local
	// storage. Defaults to the OS temp dir. Created if missing.
	StagingDir string

	// ArenaSize is the capacity of one allocator arena. Items (chunk
	// sizes, plain files) must stay below it. Defaults to 128 MiB.
	ArenaSize int

	// CompressionWorkers and UploadWorkers size the two pools
	// independently.
	CompressionWorkers int
	UploadWorkers      int

	// QueueSize bounds each stage's job queue; submitting to a full
	// queue blocks the producer.
	QueueSize int

	// ChunkSuffix is appended to the derived key of chunk objects.
	ChunkSuffix string

	// CriticalPaths lists remote paths whose plain uploads require
	// acknowledgment from all replicas (e.g. root-level metadata).
	CriticalPaths []string

	// Metrics is optional; nil disables instrumentation.
	Metrics metrics.PipelineMetrics
}

func (c *Config) applyDefaults() {
	if c.StagingDir == "" {
		c.StagingDir = os.TempDir()
	}
	if c.ArenaSize <= 0 {
		c.ArenaSize = arena.DefaultArenaSize
	}
	if c.CompressionWorkers <= 0 {
		c.CompressionWorkers = DefaultCompressionWorkers
	}
	if c.UploadWorkers <= 0 {
		c.UploadWorkers = DefaultUploadWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ChunkSuffix == "" {
		c.ChunkSuffix = DefaultChunkSuffix
	}
}

// Stats is a point-in-time snapshot of pipeline activity.
type Stats struct {
	Submitted     int   `json:"submitted"`
	Completed     int   `json:"completed"`
	InFlight      int   `json:"in_flight"`
	Errors        int   `json:"errors"`
	ReservedBytes int64 `json:"arena_reserved_bytes"`
	NumArenas     int   `json:"arena_count"`
}

// Spooler is the public entry point of the pipeline.
type Spooler struct {
	cfg      Config
	alloc    *arena.Allocator
	compress *compressPool
	upload   *uploadPool

	mu         sync.Mutex
	cond       *sync.Cond
	inFlight   int
	submitted  int
	completed  int
	errors     int
	unitJobs   int
	unitErrors int
	moveMode   bool
	terminated bool
}

// New creates a spooler over the given cluster endpoints and starts
// both worker pools.
func New(cfg Config, endpoints []backend.Endpoint) (*Spooler, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("spool: at least one backend endpoint is required")
	}
	cfg.applyDefaults()

	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create staging dir: %w", err)
	}

	s := &Spooler{
		cfg:   cfg,
		alloc: arena.New(cfg.ArenaSize),
	}
	s.cond = sync.NewCond(&s.mu)

	s.upload = newUploadPool(cfg.UploadWorkers, cfg.QueueSize, endpoints, s.alloc, cfg.Metrics, s.finishJob)
	s.compress = newCompressPool(cfg.CompressionWorkers, cfg.QueueSize, cfg.StagingDir,
		s.alloc, s.upload, cfg.Metrics, s.failEarly)

	logger.Info("spooler started",
		"endpoints", len(endpoints),
		"compression_workers", cfg.CompressionWorkers,
		"upload_workers", cfg.UploadWorkers,
		"staging_dir", cfg.StagingDir)
	return s, nil
}

// SetMoveMode marks subsequently submitted jobs as "delete the local
// source after success". The pipeline itself never deletes sources; the
// flag is advisory for the caller's result handling.
func (s *Spooler) SetMoveMode(move bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moveMode = move
}

// Copy schedules a direct upload of localPath under a key derived from
// remotePath. The call blocks only while the upload queue is full.
func (s *Spooler) Copy(localPath, remotePath string) <-chan Result {
	result := make(chan Result, 1)
	move, ok := s.admit(localPath, result)
	if !ok {
		return result
	}

	critical := slices.Contains(s.cfg.CriticalPaths, remotePath)
	s.upload.enqueue(newPlainJob(localPath, remotePath, critical, move, result))
	return result
}

// ProcessChunk schedules compression, hashing and upload of the byte
// range [offset, offset+length) of localPath. The chunk becomes an
// independent content-addressed object under remoteDir; reassembly
// bookkeeping is the catalog layer's concern.
func (s *Spooler) ProcessChunk(localPath, remoteDir string, offset, length int64) <-chan Result {
	result := make(chan Result, 1)
	move, ok := s.admit(localPath, result)
	if !ok {
		return result
	}

	s.compress.enqueue(chunkRequest{
		sourcePath: localPath,
		remoteDir:  remoteDir,
		suffix:     s.cfg.ChunkSuffix,
		offset:     offset,
		length:     length,
		move:       move,
		result:     result,
	})
	return result
}

// Process schedules compression, hashing and upload of a whole file
// with an explicit key suffix (catalogs and similar special objects).
func (s *Spooler) Process(localPath, remoteDir, suffix string) <-chan Result {
	result := make(chan Result, 1)
	move, ok := s.admit(localPath, result)
	if !ok {
		return result
	}

	s.compress.enqueue(chunkRequest{
		sourcePath: localPath,
		remoteDir:  remoteDir,
		suffix:     suffix,
		offset:     0,
		length:     wholeFile,
		move:       move,
		result:     result,
	})
	return result
}

// admit registers a new in-flight job, or delivers an immediate failure
// when the spooler is already terminated.
func (s *Spooler) admit(sourcePath string, result chan Result) (move, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		result <- Result{
			Code:       CodeTerminated,
			SourcePath: sourcePath,
			Err:        fmt.Errorf("spool: spooler is terminated"),
		}
		return false, false
	}
	s.inFlight++
	s.submitted++
	s.unitJobs++
	return s.moveMode, true
}

// EndOfTransaction signals that no further jobs belong to the current
// logical publish unit. It does not block; per-unit counters roll over.
func (s *Spooler) EndOfTransaction() {
	s.mu.Lock()
	jobs, errs := s.unitJobs, s.unitErrors
	s.unitJobs, s.unitErrors = 0, 0
	s.mu.Unlock()

	logger.Info("end of transaction", "jobs", jobs, "errors", errs)
}

// WaitForUpload blocks until every job submitted so far has reached a
// terminal state. The pools stay usable afterwards.
func (s *Spooler) WaitForUpload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inFlight > 0 {
		s.cond.Wait()
	}
}

// WaitForTermination drains like WaitForUpload and then tears down both
// worker pools. The spooler accepts no further jobs afterwards.
func (s *Spooler) WaitForTermination() {
	s.WaitForUpload()

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()

	// Stage one first so no new jobs can reach stage two's queue.
	s.compress.close()
	s.upload.close()

	stats := s.Stats()
	logger.Info("spooler terminated",
		"submitted", stats.Submitted,
		"errors", stats.Errors)
}

// NumErrors returns the cumulative count of jobs whose terminal result
// was a failure.
func (s *Spooler) NumErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// Stats returns a snapshot of pipeline counters for status reporting.
func (s *Spooler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Submitted:     s.submitted,
		Completed:     s.completed,
		InFlight:      s.inFlight,
		Errors:        s.errors,
		ReservedBytes: s.alloc.ReservedBytes(),
		NumArenas:     s.alloc.NumArenas(),
	}
}

// finishJob is the upload pool's terminal callback: it cleans up staged
// temporaries and delivers the result exactly once.
func (s *Spooler) finishJob(job *Job, res Result) {
	if job.kind == KindCompressedUpload {
		// The staged temp file is pipeline-owned; the original source
		// is never touched.
		if err := os.Remove(job.uploadPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove staging file",
				logger.KeySource, job.uploadPath,
				logger.KeyError, err)
		}
	}
	s.deliver(job.result, res)
}

// failEarly is the compression pool's terminal callback for jobs that
// never reach stage two.
func (s *Spooler) failEarly(result chan<- Result, res Result) {
	s.deliver(result, res)
}

// deliver sends the terminal result (the channel is buffered, so the
// send cannot block) and updates the drain accounting afterwards, which
// guarantees the result is visible before WaitForUpload returns.
func (s *Spooler) deliver(result chan<- Result, res Result) {
	result <- res

	s.mu.Lock()
	s.inFlight--
	s.completed++
	if !res.Ok() {
		s.errors++
		s.unitErrors++
	}
	if s.inFlight == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}
