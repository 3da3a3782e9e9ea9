package spool

import (
	"fmt"

	"github.com/driftfs/driftfs/pkg/backend"
)

// Kind discriminates upload job descriptors. It is fixed at
// construction and never changes afterwards.
type Kind int

const (
	// KindEmpty marks an invalid placeholder. It must never reach a
	// worker; dispatching one is a programming error.
	KindEmpty Kind = iota

	// KindPlainUpload copies a local file to the backend under a key
	// derived from its remote path. Created directly by Copy.
	KindPlainUpload

	// KindCompressedUpload pushes a compressed, content-hashed blob
	// under a key derived from its hash. Only ever produced by the
	// compression stage.
	KindCompressedUpload
)

func (k Kind) String() string {
	switch k {
	case KindPlainUpload:
		return "plain"
	case KindCompressedUpload:
		return "compressed"
	default:
		return "empty"
	}
}

// Result codes. Zero is success; everything else names the failure
// class. Backend failures carry the wrapped error in logs, not here:
// results stay small because one is delivered per job.
const (
	CodeOK          = 0
	CodeLocalIO     = 1
	CodeCompression = 2
	CodeBackend     = 3
	CodeTerminated  = 4
)

// Result is the terminal outcome of a submitted job, delivered exactly
// once on the channel returned at submission time.
type Result struct {
	// Code is 0 on success.
	Code int

	// SourcePath echoes the submitted local path for correlation.
	SourcePath string

	// ContentHash is set for compressed uploads whose compression
	// stage succeeded. It is the object's authoritative identity.
	ContentHash backend.Hash

	// Err describes the failure when Code is non-zero.
	Err error
}

// Ok reports whether the job succeeded.
func (r Result) Ok() bool { return r.Code == CodeOK }

// Job is an immutable upload descriptor flowing into the upload stage.
type Job struct {
	kind Kind

	// sourcePath is the caller's local path, echoed in the result.
	sourcePath string

	// uploadPath is the file whose bytes are pushed: the source itself
	// for plain uploads, the staged compressed temp file otherwise.
	uploadPath string

	remotePath string       // plain uploads only
	remoteDir  string       // compressed uploads only
	suffix     string       // compressed uploads only
	hash       backend.Hash // compressed uploads only

	critical bool
	move     bool

	result chan Result
}

func newPlainJob(localPath, remotePath string, critical, move bool, result chan Result) *Job {
	return &Job{
		kind:       KindPlainUpload,
		sourcePath: localPath,
		uploadPath: localPath,
		remotePath: remotePath,
		critical:   critical,
		move:       move,
		result:     result,
	}
}

// newCompressedJob is only called by the compression stage, after the
// compressed stream is fully materialized and hashed.
func newCompressedJob(sourcePath, compressedPath, remoteDir, suffix string,
	hash backend.Hash, critical, move bool, result chan Result,
) *Job {
	return &Job{
		kind:       KindCompressedUpload,
		sourcePath: sourcePath,
		uploadPath: compressedPath,
		remoteDir:  remoteDir,
		suffix:     suffix,
		hash:       hash,
		critical:   critical,
		move:       move,
		result:     result,
	}
}

// Kind returns the job kind.
func (j *Job) Kind() Kind { return j.kind }

// SourcePath returns the caller's local path.
func (j *Job) SourcePath() string { return j.sourcePath }

// ContentHash returns the content hash (zero for plain uploads).
func (j *Job) ContentHash() backend.Hash { return j.hash }

// Critical reports whether the write requires full-quorum acknowledgment.
func (j *Job) Critical() bool { return j.critical }

// Move reports the caller's "delete source after success" intent. The
// pipeline never deletes sources; the flag is advisory and round-trips
// to the caller.
func (j *Job) Move() bool { return j.move }

// key derives the backend key for this job. Derivation is pure:
// identical inputs always reproduce the same key.
func (j *Job) key() string {
	switch j.kind {
	case KindPlainUpload:
		return backend.PlainKey(j.remotePath)
	case KindCompressedUpload:
		return backend.CompressedKey(j.hash, j.suffix)
	default:
		panic(fmt.Sprintf("spool: key derivation for kind %v", j.kind))
	}
}
