package backend

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the size of a content hash in bytes (BLAKE3-256).
const HashSize = 32

// Hash is the cryptographic digest of an object's (possibly compressed)
// bytes. It is the authoritative identity of the object and the key
// material for content-addressed storage.
type Hash [HashSize]byte

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is unset.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Sum hashes data in one shot. Mostly useful in tests; the compression
// stage hashes incrementally with NewHasher.
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// NewHasher returns an incremental content hasher. It implements
// io.Writer so it can sit in a MultiWriter behind the compressor.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Hasher computes a content hash incrementally.
type Hasher struct {
	h *blake3.Hasher
}

func (s *Hasher) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// Sum finalizes and returns the content hash.
func (s *Hasher) Sum() Hash {
	var h Hash
	copy(h[:], s.h.Sum(nil))
	return h
}

// CompressedKey derives the backend key for a content-addressed object.
// The hex digest has fixed length, so distinct (hash, suffix) pairs can
// never collide. The two-character fan-out prefix spreads objects across
// key ranges the way most object stores prefer.
func CompressedKey(hash Hash, suffix string) string {
	hx := hash.Hex()
	return hx[:2] + "/" + hx[2:] + suffix
}

// PlainKey derives the backend key for a named (non content-addressed)
// object from its remote path. Hashing the path keeps keys flat and
// collision-resistant regardless of the path's shape.
func PlainKey(remotePath string) string {
	h := Sum([]byte(remotePath))
	hx := h.Hex()
	return hx[:2] + "/" + hx[2:]
}
