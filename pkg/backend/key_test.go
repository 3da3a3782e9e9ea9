package backend

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomHash(t *testing.T) Hash {
	t.Helper()
	var h Hash
	_, err := rand.Read(h[:])
	require.NoError(t, err)
	return h
}

func TestCompressedKeyDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		h := randomHash(t)
		suffix := fmt.Sprintf(".s%d", i%4)
		assert.Equal(t, CompressedKey(h, suffix), CompressedKey(h, suffix))
	}
}

func TestCompressedKeyDistinct(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		h := randomHash(t)
		for _, suffix := range []string{"", "C", "X", ".partial"} {
			key := CompressedKey(h, suffix)
			_, dup := seen[key]
			assert.False(t, dup, "duplicate key %q", key)
			seen[key] = struct{}{}
		}
	}
}

func TestCompressedKeySuffixChangesKey(t *testing.T) {
	h := randomHash(t)
	assert.NotEqual(t, CompressedKey(h, ""), CompressedKey(h, "C"))
}

func TestPlainKeyDeterministic(t *testing.T) {
	paths := []string{
		".driftpublished",
		"nested/dir/object",
		"a",
		"a/",
	}
	seen := make(map[string]string)
	for _, p := range paths {
		key := PlainKey(p)
		assert.Equal(t, key, PlainKey(p))
		if prev, dup := seen[key]; dup {
			t.Fatalf("paths %q and %q derived the same key", prev, p)
		}
		seen[key] = p
	}
}

func TestIncrementalHashMatchesOneShot(t *testing.T) {
	data := make([]byte, 1<<16)
	_, err := rand.Read(data)
	require.NoError(t, err)

	hasher := NewHasher()
	for i := 0; i < len(data); i += 4096 {
		_, err := hasher.Write(data[i : i+4096])
		require.NoError(t, err)
	}
	assert.Equal(t, Sum(data), hasher.Sum())
}

func TestHashHex(t *testing.T) {
	var h Hash
	assert.True(t, h.IsZero())
	assert.Len(t, h.Hex(), 64)

	h = Sum([]byte("payload"))
	assert.False(t, h.IsZero())
}
