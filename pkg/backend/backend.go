// Package backend defines the narrow capability contract the upload
// pipeline needs from a replicated key/value store: read an object's
// version marker and write an object under a derived key.
//
// One Endpoint implementation exists per backend technology (HTTP
// key/value cluster, S3, in-memory test double). The pipeline itself is
// written once against this interface; endpoint selection and
// consistency policy stay in the pipeline.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrQuorumNotMet reports a critical write that was not acknowledged by
// all replicas.
var ErrQuorumNotMet = errors.New("backend: write quorum not met")

// WriteOptions carries per-write protocol parameters.
type WriteOptions struct {
	// Marker is the version marker obtained from a prior VersionMarker
	// call for the same key. Empty when the key is new. Round-tripping
	// it on the write preserves causal ordering on updates.
	Marker string

	// Critical requires acknowledgment from all replicas before the
	// write is considered successful.
	Critical bool
}

// Endpoint is a single addressable member of a replicated backend
// cluster. Implementations must be safe for concurrent use; each upload
// worker owns its own connection handle but endpoints are shared.
type Endpoint interface {
	// VersionMarker queries the current version marker for key.
	// Absence of the key is not an error: found is false and err is nil.
	VersionMarker(ctx context.Context, key string) (marker string, found bool, err error)

	// Write stores size bytes from body under key. Exactly one write
	// attempt is made; retry policy belongs to the caller.
	Write(ctx context.Context, key string, body io.Reader, size int64, opts WriteOptions) error

	// URL identifies the endpoint for logging and load accounting.
	URL() string
}

// StatusError is returned by endpoints when the backend answers with a
// non-success protocol status.
type StatusError struct {
	Endpoint string
	Key      string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: key %q: unexpected status %d", e.Endpoint, e.Key, e.Status)
}
