package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/internal/bytesize"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
entries:
  - op: copy
    local: /data/catalog
    remote: catalogs/root
  - op: process
    local: /data/blob
    remote: data
    suffix: C
  - op: chunk
    local: /data/large
    remote: data
    chunk_size: 16Mi
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)

	assert.Equal(t, "copy", m.Entries[0].Op)
	assert.Equal(t, "C", m.Entries[1].Suffix)
	assert.Equal(t, bytesize.ByteSize(16*bytesize.MiB), m.Entries[2].ChunkSize)
}

func TestLoadManifestRejectsUnknownOp(t *testing.T) {
	path := writeManifest(t, `
entries:
  - op: teleport
    local: /data/x
    remote: data
`)

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op")
}

func TestLoadManifestRequiresChunkSize(t *testing.T) {
	path := writeManifest(t, `
entries:
  - op: chunk
    local: /data/x
    remote: data
`)

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
}

func TestLoadManifestRejectsEmpty(t *testing.T) {
	path := writeManifest(t, "entries: []\n")
	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestChunkRanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o644))

	ranges, err := chunkRanges(path, 30)
	require.NoError(t, err)
	require.Len(t, ranges, 4)
	assert.Equal(t, byteRange{offset: 90, length: 10}, ranges[3])

	var total int64
	for _, r := range ranges {
		total += r.length
	}
	assert.Equal(t, int64(100), total)
}
