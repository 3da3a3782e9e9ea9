package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilSafeHelpers(t *testing.T) {
	// Must not panic with a nil implementation.
	ObserveJob(nil, "compress", "success", time.Millisecond)
	AddBytes(nil, "source", 42)
	SetReservedBytes(nil, 1024)
	SetQueueDepth(nil, "upload", 3)
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveJob("compress", "success", 5*time.Millisecond)
	m.ObserveJob("upload", "failure", 10*time.Millisecond)
	m.AddBytes("source", 4096)
	m.SetReservedBytes(1 << 20)
	m.SetQueueDepth("upload", 7)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, fam := range families {
		names[fam.GetName()] = true
	}

	assert.True(t, names["driftfs_spool_jobs_total"])
	assert.True(t, names["driftfs_spool_stage_duration_seconds"])
	assert.True(t, names["driftfs_spool_bytes_total"])
	assert.True(t, names["driftfs_arena_reserved_bytes"])
	assert.True(t, names["driftfs_spool_queue_depth"])
}

func TestRegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
