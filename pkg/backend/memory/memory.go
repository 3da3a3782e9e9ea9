// Package memory provides an in-memory backend.Endpoint used by tests
// and local development. It simulates the replica acknowledgment
// behavior of a real cluster so consistency handling can be exercised
// without network infrastructure.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/driftfs/driftfs/pkg/backend"
)

// Object is a stored value with its version marker.
type Object struct {
	Data   []byte
	Marker string
}

// Endpoint is an in-memory member of a simulated cluster.
type Endpoint struct {
	name string

	mu      sync.Mutex
	objects map[string]Object
	writes  int
	version int

	// Replicas and AckedReplicas simulate cluster membership. A
	// critical write succeeds only when every replica acknowledges.
	replicas      int
	ackedReplicas int

	failWrites bool
	writeErr   error
}

// New creates an endpoint whose simulated replicas all acknowledge.
func New(name string) *Endpoint {
	return &Endpoint{
		name:          name,
		objects:       make(map[string]Object),
		replicas:      3,
		ackedReplicas: 3,
	}
}

// URL identifies the endpoint.
func (e *Endpoint) URL() string { return "memory://" + e.name }

// SetReplicaAcks configures how many of the simulated replicas
// acknowledge a write. acked < total makes critical writes fail while
// default-consistency writes still succeed.
func (e *Endpoint) SetReplicaAcks(acked, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ackedReplicas, e.replicas = acked, total
}

// FailWrites makes every write return err (or a generic error when err
// is nil) without storing anything.
func (e *Endpoint) FailWrites(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failWrites = true
	e.writeErr = err
}

// VersionMarker reports the marker of a stored object. Absence of the
// key is not an error.
func (e *Endpoint) VersionMarker(_ context.Context, key string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	obj, ok := e.objects[key]
	if !ok {
		return "", false, nil
	}
	return obj.Marker, true, nil
}

// Write stores the object, honoring the simulated replica membership
// for critical writes.
func (e *Endpoint) Write(_ context.Context, key string, body io.Reader, _ int64, opts backend.WriteOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("memory: read body for %q: %w", key, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failWrites {
		if e.writeErr != nil {
			return e.writeErr
		}
		return fmt.Errorf("memory: write %q: injected failure", key)
	}
	if opts.Critical && e.ackedReplicas < e.replicas {
		return fmt.Errorf("memory: write %q: %d/%d replicas acked: %w",
			key, e.ackedReplicas, e.replicas, backend.ErrQuorumNotMet)
	}

	e.version++
	e.writes++
	e.objects[key] = Object{Data: data, Marker: fmt.Sprintf("v%d", e.version)}
	return nil
}

// Get returns a stored object for test assertions.
func (e *Endpoint) Get(key string) (Object, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[key]
	return obj, ok
}

// Writes reports how many successful writes this endpoint received.
func (e *Endpoint) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}

// Len reports how many distinct keys are stored.
func (e *Endpoint) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.objects)
}

// Keys returns the stored keys for test assertions.
func (e *Endpoint) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.objects))
	for k := range e.objects {
		keys = append(keys, k)
	}
	return keys
}

var _ backend.Endpoint = (*Endpoint)(nil)
