package spool

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/backend"
	"github.com/driftfs/driftfs/pkg/backend/memory"
)

func newTestSpooler(t *testing.T, endpoints ...backend.Endpoint) *Spooler {
	t.Helper()
	if len(endpoints) == 0 {
		endpoints = []backend.Endpoint{memory.New("a")}
	}
	s, err := New(Config{
		StagingDir:         t.TempDir(),
		ArenaSize:          1 << 20,
		CompressionWorkers: 2,
		UploadWorkers:      2,
		QueueSize:          8,
		CriticalPaths:      []string{".driftpublished"},
	}, endpoints)
	require.NoError(t, err)
	t.Cleanup(s.WaitForTermination)
	return s
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func recv(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func decompress(t *testing.T, data []byte) []byte {
	t.Helper()
	zr, err := zlib.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer zr.Close()
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return out
}

func TestCopyRoundTrip(t *testing.T) {
	ep := memory.New("a")
	s := newTestSpooler(t, ep)

	payload := randomBytes(t, 4096)
	src := writeFile(t, payload)

	res := recv(t, s.Copy(src, "catalogs/nested"))
	require.True(t, res.Ok(), "copy failed: %v", res.Err)
	assert.Equal(t, src, res.SourcePath)
	assert.True(t, res.ContentHash.IsZero(), "plain uploads carry no content hash")

	obj, found := ep.Get(backend.PlainKey("catalogs/nested"))
	require.True(t, found)
	assert.Equal(t, payload, obj.Data)
}

func TestProcessRoundTrip(t *testing.T) {
	ep := memory.New("a")
	s := newTestSpooler(t, ep)

	payload := randomBytes(t, 32*1024)
	src := writeFile(t, payload)

	res := recv(t, s.Process(src, "data", "C"))
	require.True(t, res.Ok(), "process failed: %v", res.Err)
	require.False(t, res.ContentHash.IsZero())

	obj, found := ep.Get(backend.CompressedKey(res.ContentHash, "C"))
	require.True(t, found)

	// The hash is the identity of the stored (compressed) bytes.
	assert.Equal(t, res.ContentHash, backend.Sum(obj.Data))
	assert.Equal(t, payload, decompress(t, obj.Data))
}

func TestStagingFileCleanedUp(t *testing.T) {
	staging := t.TempDir()
	s, err := New(Config{
		StagingDir: staging,
		ArenaSize:  1 << 20,
	}, []backend.Endpoint{memory.New("a")})
	require.NoError(t, err)
	defer s.WaitForTermination()

	res := recv(t, s.Process(writeFile(t, randomBytes(t, 1024)), "data", ""))
	require.True(t, res.Ok())
	s.WaitForUpload()

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging temporaries must not survive terminal jobs")
}

func TestChunking(t *testing.T) {
	const (
		z = 100_000
		l = 16_384
	)
	ep := memory.New("a")
	s := newTestSpooler(t, ep)

	payload := randomBytes(t, z)
	src := writeFile(t, payload)

	numChunks := (z + l - 1) / l
	channels := make([]<-chan Result, 0, numChunks)
	for off := int64(0); off < z; off += l {
		length := int64(l)
		if off+length > z {
			length = z - off
		}
		channels = append(channels, s.ProcessChunk(src, "data", off, length))
	}

	hashes := make(map[backend.Hash]struct{})
	total := 0
	for _, ch := range channels {
		res := recv(t, ch)
		require.True(t, res.Ok(), "chunk failed: %v", res.Err)
		hashes[res.ContentHash] = struct{}{}

		obj, found := ep.Get(backend.CompressedKey(res.ContentHash, DefaultChunkSuffix))
		require.True(t, found)
		total += len(decompress(t, obj.Data))
	}

	assert.Len(t, hashes, numChunks, "each chunk gets a distinct content hash")
	assert.Equal(t, numChunks, ep.Len())
	assert.Equal(t, z, total, "uncompressed chunk lengths must sum to the source size")
}

func TestChunkRangePastEOF(t *testing.T) {
	ep := memory.New("a")
	s := newTestSpooler(t, ep)

	src := writeFile(t, randomBytes(t, 1000))
	res := recv(t, s.ProcessChunk(src, "data", 500, 1000))
	require.False(t, res.Ok())
	assert.Equal(t, CodeLocalIO, res.Code)
	assert.Equal(t, 0, ep.Len(), "no partial data may be forwarded")
}

func TestCompressionFailureNotForwarded(t *testing.T) {
	ep := memory.New("a")
	s := newTestSpooler(t, ep)

	res := recv(t, s.ProcessChunk("/nonexistent/source", "data", 0, 100))
	require.False(t, res.Ok())
	assert.Equal(t, CodeLocalIO, res.Code)
	assert.Equal(t, "/nonexistent/source", res.SourcePath)
	assert.Equal(t, 0, ep.Len())
	assert.Equal(t, 1, s.NumErrors())
}

func TestConcurrentSubmissionExactlyOnce(t *testing.T) {
	const (
		good = 40
		bad  = 10
	)
	ep := memory.New("a")
	s := newTestSpooler(t, ep) // upload pool of 2, K = 50 > 2

	payload := randomBytes(t, 256)
	channels := make([]<-chan Result, 0, good+bad)
	for i := 0; i < good; i++ {
		src := writeFile(t, payload)
		channels = append(channels, s.Copy(src, filepath.Join("objs", src)))
	}
	for i := 0; i < bad; i++ {
		channels = append(channels, s.Copy(
			filepath.Join(t.TempDir(), "missing"),
			filepath.Join("objs", "missing", string(rune('a'+i)))))
	}

	failures := 0
	for _, ch := range channels {
		res := recv(t, ch)
		if !res.Ok() {
			failures++
		}

		// Exactly-once: the channel must now be empty and stay empty.
		select {
		case extra, open := <-ch:
			if open {
				t.Fatalf("second result delivered: %+v", extra)
			}
		default:
		}
	}

	assert.Equal(t, bad, failures)
	assert.Equal(t, bad, s.NumErrors())
	assert.Equal(t, good, ep.Len())
}

func TestCriticalWriteEnforcement(t *testing.T) {
	ep := memory.New("a")
	ep.SetReplicaAcks(1, 3) // only a minority of replicas acknowledge
	s := newTestSpooler(t, ep)

	payload := randomBytes(t, 128)

	// .driftpublished is in CriticalPaths, so this write requires all
	// replicas and must fail.
	res := recv(t, s.Copy(writeFile(t, payload), ".driftpublished"))
	require.False(t, res.Ok())
	assert.Equal(t, CodeBackend, res.Code)

	// The same payload under default consistency succeeds.
	res = recv(t, s.Copy(writeFile(t, payload), "ordinary/object"))
	require.True(t, res.Ok(), "non-critical write failed: %v", res.Err)

	assert.Equal(t, 1, s.NumErrors())
}

func TestRoundRobinFairness(t *testing.T) {
	eps := []backend.Endpoint{memory.New("a"), memory.New("b"), memory.New("c")}
	s := newTestSpooler(t, eps...)

	const perEndpoint = 3
	m := perEndpoint * len(eps)
	payload := randomBytes(t, 64)

	channels := make([]<-chan Result, 0, m)
	for i := 0; i < m; i++ {
		src := writeFile(t, payload)
		channels = append(channels, s.Copy(src, filepath.Join("fair", src)))
	}
	for _, ch := range channels {
		require.True(t, recv(t, ch).Ok())
	}

	for _, ep := range eps {
		assert.Equal(t, perEndpoint, ep.(*memory.Endpoint).Writes(),
			"endpoint %s did not receive its fair share", ep.URL())
	}
}

func TestIdempotentAddressing(t *testing.T) {
	ep := memory.New("a")
	s := newTestSpooler(t, ep)

	src := writeFile(t, randomBytes(t, 2048))

	first := recv(t, s.Process(src, "data", ""))
	second := recv(t, s.Process(src, "data", ""))
	require.True(t, first.Ok())
	require.True(t, second.Ok())

	// Identical content compresses to identical bytes, hence an
	// identical key: the second upload overwrites with the same data.
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, 1, ep.Len())
	assert.Equal(t, 2, ep.Writes())
}

func TestWaitForUploadDrains(t *testing.T) {
	s := newTestSpooler(t)

	channels := make([]<-chan Result, 0, 20)
	for i := 0; i < 20; i++ {
		channels = append(channels, s.Copy(writeFile(t, randomBytes(t, 128)), "k"))
	}
	s.WaitForUpload()

	assert.Equal(t, 0, s.Stats().InFlight)
	for _, ch := range channels {
		// Drained means every result is already available.
		select {
		case res := <-ch:
			assert.True(t, res.Ok())
		default:
			t.Fatal("WaitForUpload returned before all results were delivered")
		}
	}

	// The pools stay usable after a drain.
	res := recv(t, s.Copy(writeFile(t, randomBytes(t, 16)), "after-drain"))
	assert.True(t, res.Ok())
}

func TestTerminatedSpoolerRejectsJobs(t *testing.T) {
	s, err := New(Config{StagingDir: t.TempDir(), ArenaSize: 1 << 20},
		[]backend.Endpoint{memory.New("a")})
	require.NoError(t, err)

	s.WaitForTermination()
	s.WaitForTermination() // idempotent

	res := recv(t, s.Copy("/some/file", "remote"))
	assert.Equal(t, CodeTerminated, res.Code)

	res = recv(t, s.ProcessChunk("/some/file", "data", 0, 10))
	assert.Equal(t, CodeTerminated, res.Code)
}

func TestMoveIsAdvisory(t *testing.T) {
	ep := memory.New("a")
	s := newTestSpooler(t, ep)
	s.SetMoveMode(true)

	src := writeFile(t, randomBytes(t, 64))
	res := recv(t, s.Copy(src, "moved/object"))
	require.True(t, res.Ok())
	s.WaitForUpload()

	// The pipeline never deletes sources, even in move mode.
	_, err := os.Stat(src)
	assert.NoError(t, err)
}

func TestEndOfTransactionDoesNotBlockOrReset(t *testing.T) {
	s := newTestSpooler(t)

	res := recv(t, s.Copy("/missing/file", "x"))
	require.False(t, res.Ok())

	s.EndOfTransaction()
	assert.Equal(t, 1, s.NumErrors(), "error counter is cumulative across transactions")
}

func TestEmptyJobNeverDispatched(t *testing.T) {
	s := newTestSpooler(t)
	assert.Panics(t, func() { s.upload.enqueue(&Job{}) })
}

func TestBackendFailureIsJobScoped(t *testing.T) {
	ep := memory.New("a")
	s := newTestSpooler(t, ep)

	ep.FailWrites(nil)
	res := recv(t, s.Copy(writeFile(t, randomBytes(t, 32)), "will-fail"))
	require.False(t, res.Ok())
	assert.Equal(t, CodeBackend, res.Code)
	assert.Equal(t, 1, s.NumErrors())
}
