package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/arena"
	"github.com/driftfs/driftfs/pkg/backend"
	"github.com/driftfs/driftfs/pkg/metrics"
)

// copyBufferSize is the per-job scratch buffer carved from the arena
// while streaming source bytes through the compressor.
const copyBufferSize = 512 << 10

// wholeFile as a chunk length means "compress from offset to EOF".
const wholeFile = int64(-1)

// chunkRequest is the input of the compression stage: a byte range of a
// local file plus the upload context inherited by the job it produces.
type chunkRequest struct {
	sourcePath string
	remoteDir  string
	suffix     string
	offset     int64
	length     int64 // wholeFile means rest of file
	critical   bool
	move       bool

	result chan Result
}

// compressPool is the first pipeline stage: it turns a source byte
// range into a compressed temp file plus a content hash of the
// compressed stream, then hands a compressed-upload job to stage two.
type compressPool struct {
	queue      chan chunkRequest
	wg         sync.WaitGroup
	stagingDir string
	alloc      *arena.Allocator
	next       *uploadPool
	metrics    metrics.PipelineMetrics

	// fail delivers a terminal failure result for a job that never
	// reaches stage two.
	fail func(chan<- Result, Result)
}

func newCompressPool(workers, queueSize int, stagingDir string, alloc *arena.Allocator,
	next *uploadPool, m metrics.PipelineMetrics, fail func(chan<- Result, Result),
) *compressPool {
	p := &compressPool{
		queue:      make(chan chunkRequest, queueSize),
		stagingDir: stagingDir,
		alloc:      alloc,
		next:       next,
		metrics:    m,
		fail:       fail,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// enqueue submits a request. It blocks while the queue is full, which
// is the pipeline's producer backpressure.
func (p *compressPool) enqueue(req chunkRequest) {
	p.queue <- req
	metrics.SetQueueDepth(p.metrics, "compress", len(p.queue))
}

// close stops accepting work and waits for the workers to drain.
func (p *compressPool) close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *compressPool) worker(id int) {
	defer p.wg.Done()
	log := logger.With(logger.KeyStage, "compress", logger.KeyWorkerID, id)
	log.Debug("compression worker started")

	for req := range p.queue {
		start := time.Now()
		job, err := p.process(req)
		if err != nil {
			metrics.ObserveJob(p.metrics, "compress", "failure", time.Since(start))
			log.Error("compression failed",
				logger.KeySource, req.sourcePath,
				logger.KeyError, err)
			p.fail(req.result, Result{Code: codeFor(err), SourcePath: req.sourcePath, Err: err})
			continue
		}

		metrics.ObserveJob(p.metrics, "compress", "success", time.Since(start))
		log.Debug("chunk compressed",
			logger.KeySource, req.sourcePath,
			"hash", job.hash.Hex(),
			logger.KeyDuration, time.Since(start).Milliseconds())

		// Short hand-off into stage two; this worker does not wait for
		// the upload to run.
		p.next.enqueue(job)
	}
	log.Debug("compression worker stopped")
}

// localError and compressError tag failures with their result code.
type localError struct{ err error }

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

type compressError struct{ err error }

func (e *compressError) Error() string { return e.err.Error() }
func (e *compressError) Unwrap() error { return e.err }

func codeFor(err error) int {
	switch err.(type) {
	case *localError:
		return CodeLocalIO
	case *compressError:
		return CodeCompression
	default:
		return CodeCompression
	}
}

// process compresses the requested range into a staging temp file and
// produces the stage-two job. On any failure nothing is forwarded: the
// temp file is removed and no partial data survives. The source file is
// never deleted.
func (p *compressPool) process(req chunkRequest) (*Job, error) {
	src, err := os.Open(req.sourcePath)
	if err != nil {
		return nil, &localError{fmt.Errorf("open source: %w", err)}
	}
	defer src.Close()

	length := req.length
	if length == wholeFile {
		info, err := src.Stat()
		if err != nil {
			return nil, &localError{fmt.Errorf("stat source: %w", err)}
		}
		length = info.Size() - req.offset
		if length < 0 {
			return nil, &localError{fmt.Errorf("offset %d beyond end of %q", req.offset, req.sourcePath)}
		}
	}
	if req.offset > 0 {
		if _, err := src.Seek(req.offset, io.SeekStart); err != nil {
			return nil, &localError{fmt.Errorf("seek source: %w", err)}
		}
	}

	tmpPath := filepath.Join(p.stagingDir, "spool-"+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &localError{fmt.Errorf("create staging file: %w", err)}
	}

	job, err := p.compressTo(req, src, tmp, length, tmpPath)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}
	return job, nil
}

// compressTo streams length bytes from src through zlib into tmp,
// hashing the compressed output incrementally. The hash therefore
// covers the bytes that will actually live in the backend, not the
// original file content.
func (p *compressPool) compressTo(req chunkRequest, src io.Reader, tmp *os.File, length int64, tmpPath string) (*Job, error) {
	hasher := backend.NewHasher()
	zw := zlib.NewWriter(io.MultiWriter(tmp, hasher))

	buf := p.alloc.Allocate(copyBufferSize)
	defer func() {
		p.alloc.Release(buf)
		metrics.SetReservedBytes(p.metrics, p.alloc.ReservedBytes())
	}()
	metrics.SetReservedBytes(p.metrics, p.alloc.ReservedBytes())

	n, err := io.CopyBuffer(zw, io.LimitReader(src, length), buf.Data)
	if err != nil {
		return nil, &compressError{fmt.Errorf("compress %q: %w", req.sourcePath, err)}
	}
	if n != length {
		return nil, &localError{fmt.Errorf("short read on %q: range [%d,%d) extends past EOF",
			req.sourcePath, req.offset, req.offset+length)}
	}
	if err := zw.Close(); err != nil {
		return nil, &compressError{fmt.Errorf("finalize compression of %q: %w", req.sourcePath, err)}
	}
	if err := tmp.Close(); err != nil {
		return nil, &localError{fmt.Errorf("close staging file: %w", err)}
	}

	metrics.AddBytes(p.metrics, "source", n)

	// The hash is set exactly once, here, after the compressed stream
	// is fully and successfully materialized.
	return newCompressedJob(req.sourcePath, tmpPath, req.remoteDir, req.suffix,
		hasher.Sum(), req.critical, req.move, req.result), nil
}
