package spool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/arena"
	"github.com/driftfs/driftfs/pkg/backend"
	"github.com/driftfs/driftfs/pkg/metrics"
)

// uploadPool is the second pipeline stage: it derives the backend key
// for a job, picks the next cluster endpoint round-robin, and performs
// exactly one write attempt under the requested consistency level.
type uploadPool struct {
	queue   chan *Job
	wg      sync.WaitGroup
	alloc   *arena.Allocator
	metrics metrics.PipelineMetrics

	// endpoints and cursor implement round-robin load spreading across
	// the cluster. The cursor is shared by the whole pool and is only
	// ever read-and-incremented under mu.
	endpoints []backend.Endpoint
	mu        sync.Mutex
	cursor    int

	// finish delivers the job's terminal result back to the spooler.
	finish func(*Job, Result)
}

func newUploadPool(workers, queueSize int, endpoints []backend.Endpoint,
	alloc *arena.Allocator, m metrics.PipelineMetrics, finish func(*Job, Result),
) *uploadPool {
	p := &uploadPool{
		queue:     make(chan *Job, queueSize),
		alloc:     alloc,
		metrics:   m,
		endpoints: endpoints,
		finish:    finish,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// enqueue submits a job. It blocks while the queue is full.
// Dispatching an empty job is a programming error.
func (p *uploadPool) enqueue(job *Job) {
	if job.kind == KindEmpty {
		panic("spool: empty job dispatched to upload pool")
	}
	p.queue <- job
	metrics.SetQueueDepth(p.metrics, "upload", len(p.queue))
}

func (p *uploadPool) close() {
	close(p.queue)
	p.wg.Wait()
}

// nextEndpoint advances the shared round-robin cursor under the pool
// lock and returns the endpoint for the next write.
func (p *uploadPool) nextEndpoint() backend.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep := p.endpoints[p.cursor%len(p.endpoints)]
	p.cursor++
	return ep
}

func (p *uploadPool) worker(id int) {
	defer p.wg.Done()
	log := logger.With(logger.KeyStage, "upload", logger.KeyWorkerID, id)
	log.Debug("upload worker started")

	for job := range p.queue {
		start := time.Now()
		res := p.process(job, log)
		outcome := "success"
		if !res.Ok() {
			outcome = "failure"
		}
		metrics.ObserveJob(p.metrics, "upload", outcome, time.Since(start))
		p.finish(job, res)
	}
	log.Debug("upload worker stopped")
}

// process performs the write protocol for one job. Exactly one write
// attempt is made; retry and backoff policy belong to the caller.
func (p *uploadPool) process(job *Job, log *slog.Logger) Result {
	res := Result{SourcePath: job.sourcePath, ContentHash: job.hash}

	key := job.key()
	ep := p.nextEndpoint()
	ctx := context.Background()

	data, buf, err := p.readUploadFile(job.uploadPath)
	if err != nil {
		res.Code, res.Err = CodeLocalIO, err
		log.Error("upload source unreadable",
			logger.KeySource, job.uploadPath,
			logger.KeyError, err)
		return res
	}
	if buf != nil {
		defer func() {
			p.alloc.Release(buf)
			metrics.SetReservedBytes(p.metrics, p.alloc.ReservedBytes())
		}()
	}

	// A pre-existing version marker is attached to the write so the
	// backend can preserve causal ordering on updates. Failure to read
	// it is not fatal: a new key has no marker at all.
	marker, _, err := ep.VersionMarker(ctx, key)
	if err != nil {
		log.Warn("version marker read failed, writing without marker",
			logger.KeyKey, key,
			logger.KeyEndpoint, ep.URL(),
			logger.KeyError, err)
		marker = ""
	}

	err = ep.Write(ctx, key, bytes.NewReader(data), int64(len(data)), backend.WriteOptions{
		Marker:   marker,
		Critical: job.critical,
	})
	if err != nil {
		res.Code, res.Err = CodeBackend, fmt.Errorf("write %q to %s: %w", key, ep.URL(), err)
		log.Error("backend write failed",
			logger.KeyJobKind, job.kind.String(),
			logger.KeyKey, key,
			logger.KeyEndpoint, ep.URL(),
			logger.KeyError, err)
		return res
	}

	metrics.AddBytes(p.metrics, "uploaded", int64(len(data)))
	log.Debug("object written",
		logger.KeyJobKind, job.kind.String(),
		logger.KeyKey, key,
		logger.KeyEndpoint, ep.URL(),
		"bytes", len(data),
		"critical", job.critical)
	return res
}

// readUploadFile loads the file to push into an arena buffer. Items are
// capped below the arena capacity by contract, so the allocation cannot
// legitimately fail. Empty files skip the arena.
func (p *uploadPool) readUploadFile(path string) ([]byte, *arena.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat upload file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil, nil
	}

	buf := p.alloc.Allocate(int(size))
	metrics.SetReservedBytes(p.metrics, p.alloc.ReservedBytes())
	if _, err := io.ReadFull(f, buf.Data); err != nil {
		p.alloc.Release(buf)
		return nil, nil, fmt.Errorf("read upload file: %w", err)
	}
	return buf.Data, buf, nil
}
