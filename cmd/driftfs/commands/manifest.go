package commands

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/driftfs/driftfs/internal/bytesize"
)

// Manifest describes one publish run: the list of local files to push
// and how each of them is turned into backend objects.
type Manifest struct {
	// Entries are processed in order of appearance, but upload
	// completion order is not defined.
	Entries []ManifestEntry `yaml:"entries"`
}

// ManifestEntry is one file to publish.
type ManifestEntry struct {
	// Op selects the operation: "copy" uploads the file as-is under a
	// path-derived key, "process" compresses the whole file into one
	// content-addressed object, "chunk" splits it into fixed-size
	// content-addressed chunks.
	Op string `yaml:"op"`

	// Local is the path of the source file.
	Local string `yaml:"local"`

	// Remote is the remote path (copy) or remote directory
	// (process/chunk) the key is derived from.
	Remote string `yaml:"remote"`

	// Suffix overrides the key suffix for process operations.
	Suffix string `yaml:"suffix,omitempty"`

	// ChunkSize is the chunk length for chunk operations. Supports
	// human-readable sizes ("16Mi"). Required for op: chunk.
	ChunkSize bytesize.ByteSize `yaml:"chunk_size,omitempty"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Entries) == 0 {
		return nil, fmt.Errorf("manifest %q lists no entries", path)
	}

	for i, e := range m.Entries {
		if e.Local == "" || e.Remote == "" {
			return nil, fmt.Errorf("manifest entry %d: local and remote are required", i)
		}
		switch e.Op {
		case "copy", "process":
		case "chunk":
			if e.ChunkSize == 0 {
				return nil, fmt.Errorf("manifest entry %d: chunk_size is required for op: chunk", i)
			}
		default:
			return nil, fmt.Errorf("manifest entry %d: unknown op %q", i, e.Op)
		}
	}

	return &m, nil
}
